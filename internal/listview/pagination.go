package listview

// maxPageLinks はページャーに表示するページ番号の最大数。
const maxPageLinks = 5

// PageNumbers は現在ページを中心にした最大5件のページ番号を返す。
// 末尾付近では表示件数を保つように開始位置を前にずらす。
func PageNumbers(current, totalPages int) []int {
	if totalPages <= 0 {
		return []int{}
	}
	current = min(max(current, 1), totalPages)

	start := max(1, current-maxPageLinks/2)
	end := min(totalPages, start+maxPageLinks-1)
	if end-start < maxPageLinks-1 {
		start = max(1, end-maxPageLinks+1)
	}

	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}
