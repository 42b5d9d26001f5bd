package domain

// DetailFailure は移行元の詳細取得が失敗したときの扱いを表す。
type DetailFailure string

const (
	// DetailFailureAbortClient はそのクライアントの残りを打ち切り、次のクライアントへ進む。
	DetailFailureAbortClient DetailFailure = "abort-client"
	// DetailFailureAbortRun は実行全体を中断する。
	DetailFailureAbortRun DetailFailure = "abort-run"
)

// ParseDetailFailure は文字列を DetailFailure に変換する。
func ParseDetailFailure(s string) (DetailFailure, bool) {
	switch d := DetailFailure(s); d {
	case DetailFailureAbortClient, DetailFailureAbortRun:
		return d, true
	}
	return "", false
}
