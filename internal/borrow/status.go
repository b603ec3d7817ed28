package borrow

// DeriveOrderStatus はアイテム状態の集合から Order の状態を導出する。
// Order.status はこの関数の結果をキャッシュした射影であり、
// アイテムを更新したトランザクションの中で必ず再計算・保存する。
//
// type=borrowed（貸出レグ）:
//   - 全件 rejected            → rejected
//   - 全件 pending             → pending（承認待ち）
//   - 全件 終端(returned等)    → done
//   - 一部だけ解決             → partially_returned
//   - それ以外                 → borrowed
//
// type=returned（返却レグ）:
//   - borrowed が残っている    → partially_returned
//   - pending が残っている     → pending（返却検品待ち）
//   - repair が残っている      → partially_returned（修理中は「全返却」扱いにしない）
//   - 全件 returned/rejected   → done
func DeriveOrderStatus(typ OrderType, items []ItemStatus) OrderStatus {
	if len(items) == 0 {
		return OrderPending
	}

	var nPending, nBorrowed, nReturned, nRepair, nRejected int
	for _, st := range items {
		switch st {
		case ItemPending:
			nPending++
		case ItemBorrowed:
			nBorrowed++
		case ItemReturned:
			nReturned++
		case ItemRepair:
			nRepair++
		case ItemRejected:
			nRejected++
		}
	}

	if nRejected == len(items) {
		return OrderRejected
	}

	if typ == TypeReturned {
		if nBorrowed > 0 {
			return OrderPartiallyReturned
		}
		if nPending > 0 {
			return OrderPending
		}
		if nRepair > 0 {
			return OrderPartiallyReturned
		}
		return OrderDone
	}

	// 貸出レグ
	resolved := nReturned + nRepair + nRejected
	switch {
	case nPending == len(items):
		return OrderPending
	case resolved == len(items):
		return OrderDone
	case resolved > 0:
		return OrderPartiallyReturned
	default:
		return OrderBorrowed
	}
}

// IsTerminal は Order がもう遷移しない状態かどうか
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDone || s == OrderRejected
}

// IsTerminal はアイテム行として終端かどうか
func (s ItemStatus) IsTerminal() bool {
	return s == ItemReturned || s == ItemRepair || s == ItemRejected
}

// Unavailable は資産が新規貸出に使えない場合にその理由を返す。
// 判定順: destroyed → 未解決アイテム(pending/borrowed) → 最新サイクルが修理中。
func (st AssetState) Unavailable() (UnavailableReason, bool) {
	if st.Destroyed {
		return ReasonDestroyed, true
	}
	if st.ActiveStatus.Valid {
		if ItemStatus(st.ActiveStatus.String) == ItemBorrowed {
			return ReasonAlreadyBorrowed, true
		}
		return ReasonPendingApproval, true
	}
	if st.LatestStatus.Valid && ItemStatus(st.LatestStatus.String) == ItemRepair {
		return ReasonUnderRepair, true
	}
	return "", false
}

func validAction(a Action) bool {
	return a == ActionApprove || a == ActionReject
}

func validOrderType(t OrderType) bool {
	return t == TypeBorrowed || t == TypeReturned
}
