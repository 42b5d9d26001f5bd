package domain

// NetApp がKMIPサーバに格納するカスタム属性。
const (
	NetAppHeader      = "x-NETAPP"
	NetAppNodeID      = "x-NETAPP-NodeId"
	NetAppClusterName = "x-NETAPP-ClusterName"
	NetAppVserverID   = "x-NETAPP-VserverId"
)

// Filter は取得後に適用する絞り込み条件。設定された条件はすべて満たす必要がある。
type Filter struct {
	UUID             string            // 部分一致
	CustomAttributes map[string]string // すべて一致
	ClientName       string            // 完全一致
}

// IsEmpty は条件が1つも設定されていないかを返す。
func (f Filter) IsEmpty() bool {
	return f.UUID == "" && len(f.CustomAttributes) == 0 && f.ClientName == ""
}

// ListOnly は書き込みを行うかどうかと一覧表示の対象を表す。
type ListOnly string

const (
	ListOnlyNeither     ListOnly = "neither"
	ListOnlySource      ListOnly = "source"
	ListOnlyDestination ListOnly = "destination"
	ListOnlyBoth        ListOnly = "both"
)

// ParseListOnly は文字列を ListOnly に変換する。
func ParseListOnly(s string) (ListOnly, bool) {
	switch l := ListOnly(s); l {
	case ListOnlyNeither, ListOnlySource, ListOnlyDestination, ListOnlyBoth:
		return l, true
	}
	return "", false
}

// ReadsSource は移行元を読む必要があるかを返す。
func (l ListOnly) ReadsSource() bool { return l != ListOnlyDestination }

// UsesDestination は移行先へ接続する必要があるかを返す。
func (l ListOnly) UsesDestination() bool { return l != ListOnlySource }

// Migrates は移行先への書き込みを行うかを返す。
func (l ListOnly) Migrates() bool { return l == ListOnlyNeither }
