package posting

// The state machine per family:
//
//	purchase / sales:   draft|order -> posted -> partial -> paid
//	                    posted -> cancelled (void, only with no payments)
//	returns:            order -> posted (settle as open items, no payment legs)
//	adjustment:         draft -> posted -> cancelled (void)
//	transfer_stock:     draft|order -> posted -> cancelled (void)
//
// Checks run inside the posting/void unit of work on a locked row, so a
// concurrent poster cannot re-enter a transaction already advanced.

// prePostedSets lists the statuses each type may be posted from.
var prePostedSets = map[Type][]Status{
	TypePurchase:       {StatusDraft, StatusOrder},
	TypeSales:          {StatusDraft, StatusOrder},
	TypeSalesReturn:    {StatusOrder},
	TypePurchaseReturn: {StatusOrder},
	TypeTransferStock:  {StatusDraft, StatusOrder},
	TypeAdjustment:     {StatusDraft},
}

// CanPost reports whether a transaction of type t in status s may be posted.
func CanPost(t Type, s Status) bool {
	for _, allowed := range prePostedSets[t] {
		if s == allowed {
			return true
		}
	}
	return false
}

// CanEdit reports whether line items may still be modified.
func CanEdit(s Status) bool {
	return s == StatusDraft || s == StatusOrder
}

// CanVoid reports whether a transaction of type t in status s may be voided.
// Returns settle immediately and have no void leg.
func CanVoid(t Type, s Status) bool {
	if t == TypeSalesReturn || t == TypePurchaseReturn {
		return false
	}
	return s == StatusPosted
}

// CanSettle reports whether a settlement status change is legal. Only the
// purchase and sales families carry payment legs, and only forward moves
// are allowed.
func CanSettle(t Type, from, to Status) bool {
	if t != TypePurchase && t != TypeSales {
		return false
	}
	switch from {
	case StatusPosted:
		return to == StatusPartial || to == StatusPaid
	case StatusPartial:
		return to == StatusPartial || to == StatusPaid
	}
	return false
}
