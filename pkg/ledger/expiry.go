package ledger

import "sort"

const permanentLot = 0

// creditLot is the undrawn part of one expiring grant. Lot zero pools credit
// that never lapses: permanent grants and credit returned after its grant lapsed.
type creditLot struct {
	expiresUnixMilli int64
	remaining        int64
	lapsed           bool
}

type lotDraw struct {
	lot    int
	amount int64
}

// lotBook replays an entry log into credit lots. Holds and spends draw from the
// live lot that lapses first; releases and refunds put credit back into the
// lots it came from. A lapsing lot forfeits only its undrawn remainder.
type lotBook struct {
	lots      []creditLot
	held      map[string][]lotDraw
	released  map[string][]lotDraw
	spent     map[string][]lotDraw
	forfeited int64
}

func newLotBook() *lotBook {
	return &lotBook{
		lots:     []creditLot{{}},
		held:     make(map[string][]lotDraw),
		released: make(map[string][]lotDraw),
		spent:    make(map[string][]lotDraw),
	}
}

// ForfeitedAmount returns how much of the unit's expiring grants lapsed unused
// by atUnixMilli. Credit held or spent before its grant lapsed is never forfeited.
func ForfeitedAmount(unit Unit, entries []Entry, atUnixMilli int64) AmountCents {
	ordered := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Unit() == unit {
			ordered = append(ordered, entry)
		}
	}
	// Entries sharing a millisecond carry no order of their own; credits go first
	// so no draw comes up short.
	sort.SliceStable(ordered, func(left, right int) bool {
		leftCreated, rightCreated := ordered[left].CreatedUnixMilli(), ordered[right].CreatedUnixMilli()
		if leftCreated != rightCreated {
			return leftCreated < rightCreated
		}
		return ordered[left].AmountCents() > 0 && ordered[right].AmountCents() < 0
	})
	book := newLotBook()
	for _, entry := range ordered {
		book.lapse(entry.CreatedUnixMilli())
		book.apply(entry)
	}
	book.lapse(atUnixMilli)
	return AmountCents(book.forfeited)
}

func (book *lotBook) apply(entry Entry) {
	amount := entry.AmountCents().Int64()
	key := ""
	if reservationID := entry.ReservationID(); reservationID != nil {
		key = reservationID.String()
	}
	switch entry.Type() {
	case EntryGrant:
		if entry.ExpiresUnixMilli() <= 0 {
			book.lots[permanentLot].remaining += amount
			return
		}
		book.lots = append(book.lots, creditLot{expiresUnixMilli: entry.ExpiresUnixMilli(), remaining: amount})
	case EntryHold:
		book.held[key] = append(book.held[key], book.draw(-amount, nil)...)
	case EntryReverseHold:
		returned, _ := book.giveBack(book.held[key], amount)
		delete(book.held, key)
		book.released[key] = returned
	case EntrySpend:
		draws := book.draw(-amount, book.released[key])
		delete(book.released, key)
		if key != "" {
			book.spent[key] = append(book.spent[key], draws...)
		}
	case EntryRefund:
		_, kept := book.giveBack(book.spent[key], amount)
		book.spent[key] = kept
	}
}

// lapse forfeits the remainder of every lot expired at atUnixMilli.
func (book *lotBook) lapse(atUnixMilli int64) {
	for index := range book.lots {
		lot := &book.lots[index]
		if index == permanentLot || lot.lapsed || lot.expiresUnixMilli > atUnixMilli {
			continue
		}
		book.forfeited += lot.remaining
		lot.remaining = 0
		lot.lapsed = true
	}
}

// draw takes amount from the preferred lots first, then from live lots in expiry order.
func (book *lotBook) draw(amount int64, preferred []lotDraw) []lotDraw {
	var draws []lotDraw
	take := func(index int, limit int64) {
		lot := &book.lots[index]
		portion := min(amount, limit, lot.remaining)
		if portion <= 0 {
			return
		}
		lot.remaining -= portion
		amount -= portion
		draws = append(draws, lotDraw{lot: index, amount: portion})
	}
	for _, previous := range preferred {
		take(previous.lot, previous.amount)
	}
	for _, index := range book.liveOrder() {
		take(index, amount)
	}
	return draws
}

// giveBack returns amount to the lots of draws, newest draw first. Credit whose
// lot has lapsed goes to the permanent lot. It reports where the credit went and
// the draws left over.
func (book *lotBook) giveBack(draws []lotDraw, amount int64) ([]lotDraw, []lotDraw) {
	var returned []lotDraw
	kept := append([]lotDraw(nil), draws...)
	credit := func(index int, portion int64) {
		if book.lots[index].lapsed {
			index = permanentLot
		}
		book.lots[index].remaining += portion
		returned = append(returned, lotDraw{lot: index, amount: portion})
	}
	for len(kept) > 0 && amount > 0 {
		last := &kept[len(kept)-1]
		portion := min(amount, last.amount)
		credit(last.lot, portion)
		amount -= portion
		last.amount -= portion
		if last.amount == 0 {
			kept = kept[:len(kept)-1]
		}
	}
	if amount > 0 {
		credit(permanentLot, amount)
	}
	return returned, kept
}

func (book *lotBook) liveOrder() []int {
	order := make([]int, 0, len(book.lots))
	for index := range book.lots {
		if index != permanentLot && !book.lots[index].lapsed {
			order = append(order, index)
		}
	}
	sort.SliceStable(order, func(left, right int) bool {
		return book.lots[order[left]].expiresUnixMilli < book.lots[order[right]].expiresUnixMilli
	})
	return append(order, permanentLot)
}
