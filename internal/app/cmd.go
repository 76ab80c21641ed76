package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理画面APIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を行うワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は sessions テーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を確認して終了する。
	// シェルの無いdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを解析する。残りの引数は無視する。
// 引数が空または未知のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
