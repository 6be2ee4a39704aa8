package orders

import (
	"sort"
	"time"
)

// Merge folds one canonical incoming order into existing and returns the
// next list. existing is never modified.
//
// An order the list has never seen is inserted for NEW and UNKNOWN kinds
// and discarded for UPDATE. A known order is merged item by item: items are
// only added or updated, never removed, and the stored CreatedAt wins.
func Merge(existing []Order, incoming Order, kind MessageKind) []Order {
	idx := indexOf(existing, incoming.ID)
	if idx < 0 {
		if kind == KindUpdate || kind == KindDelta {
			return existing
		}
		next := make([]Order, 0, len(existing)+1)
		next = append(next, incoming.Clone())
		next = append(next, existing...)
		sortByCreated(next)
		return next
	}

	next := make([]Order, len(existing))
	copy(next, existing)
	next[idx] = mergeOrder(existing[idx], incoming)
	return next
}

// ApplyDelta applies a single-item status change to whichever order owns
// the item. It reports false, leaving the list untouched, when no order
// does.
func ApplyDelta(existing []Order, d Delta) ([]Order, bool) {
	for i, o := range existing {
		for j, it := range o.Items {
			if it.ID != d.ItemID {
				continue
			}
			merged := o.Clone()
			merged.Items[j] = applyDelta(it, d)
			next := make([]Order, len(existing))
			copy(next, existing)
			next[i] = merged
			return next, true
		}
	}
	return existing, false
}

// Reconcile applies a full REST snapshot requested at requestedAt. Local
// item statuses observed after requestedAt survive when they rank higher
// than the snapshot's, and orders first seen after requestedAt that the
// snapshot does not know yet are kept.
func Reconcile(existing, snapshot []Order, requestedAt time.Time) []Order {
	local := make(map[int64]Order, len(existing))
	for _, o := range existing {
		local[o.ID] = o
	}

	next := make([]Order, 0, len(snapshot)+len(existing))
	seen := make(map[int64]bool, len(snapshot))
	for _, snap := range snapshot {
		if seen[snap.ID] {
			continue
		}
		seen[snap.ID] = true
		cur, ok := local[snap.ID]
		if !ok {
			next = append(next, snap.Clone())
			continue
		}
		next = append(next, reconcileOrder(cur, snap, requestedAt))
	}
	for _, o := range existing {
		if !seen[o.ID] && o.ObservedAt.After(requestedAt) {
			next = append(next, o.Clone())
		}
	}
	sortByCreated(next)
	return next
}

func reconcileOrder(cur, snap Order, requestedAt time.Time) Order {
	out := snap.Clone()
	out.CreatedAt = cur.CreatedAt
	out.ObservedAt = cur.ObservedAt

	match := matchItems(cur.Items, out.Items)
	matched := make([]bool, len(cur.Items))
	for i, it := range out.Items {
		j := match[i]
		if j < 0 {
			continue
		}
		matched[j] = true
		mine := cur.Items[j]
		if it.ID == 0 {
			out.Items[i].ID = mine.ID
		}
		if mine.UpdatedAt.After(requestedAt) && mine.Status.rank() > it.Status.rank() {
			out.Items[i].Status = mine.Status
			out.Items[i].UpdatedAt = mine.UpdatedAt
			if out.Items[i].PreparationMinutes == 0 {
				out.Items[i].PreparationMinutes = mine.PreparationMinutes
			}
		} else if it.Status == mine.Status {
			// same status: keep the original observation time so timers do not restart
			out.Items[i].UpdatedAt = mine.UpdatedAt
		}
	}
	for j, mine := range cur.Items {
		if !matched[j] && mine.UpdatedAt.After(requestedAt) {
			out.Items = append(out.Items, mine)
		}
	}
	return out
}

func mergeOrder(cur, in Order) Order {
	out := cur.Clone()
	if in.TableNumber != "" {
		out.TableNumber = in.TableNumber
	}
	if in.CustomerName != "" && in.CustomerName != WalkInCustomer {
		out.CustomerName = in.CustomerName
	}
	if in.TotalAmount.Valid {
		out.TotalAmount = in.TotalAmount
	}
	if in.PaymentStatus != "" {
		out.PaymentStatus = in.PaymentStatus
	}
	match := matchItems(cur.Items, in.Items)
	for i, it := range in.Items {
		if j := match[i]; j >= 0 {
			out.Items[j] = mergeItem(out.Items[j], it)
			continue
		}
		out.Items = append(out.Items, it)
	}
	return out
}

func mergeItem(cur, in Item) Item {
	if stale(cur.Version, in.Version) {
		return cur
	}
	if cur.ID == 0 {
		cur.ID = in.ID
	}
	if in.Quantity > 0 {
		cur.Quantity = in.Quantity
	}
	if cur.Name == "" {
		cur.Name = in.Name
	}
	if cur.VariantName == "" {
		cur.VariantName = in.VariantName
	}
	if in.PreparationMinutes > 0 {
		cur.PreparationMinutes = in.PreparationMinutes
	}
	if in.Price.Valid {
		cur.Price = in.Price
	}
	if advances(cur.Status, in.Status) {
		cur.Status = in.Status
		cur.UpdatedAt = in.UpdatedAt
	}
	if in.Version > cur.Version {
		cur.Version = in.Version
	}
	return cur
}

func applyDelta(cur Item, d Delta) Item {
	if stale(cur.Version, d.Version) {
		return cur
	}
	if cur.Name == "" {
		cur.Name = d.ItemName
	}
	if d.PreparationMinutes > 0 {
		cur.PreparationMinutes = d.PreparationMinutes
	}
	if advances(cur.Status, d.Status) {
		cur.Status = d.Status
		cur.UpdatedAt = d.ObservedAt
	}
	if d.Version > cur.Version {
		cur.Version = d.Version
	}
	return cur
}

// advances implements the monotonic status rule: an item never leaves a
// terminal status and never drops to a lower rank.
func advances(cur, next Status) bool {
	if next == "" || next == cur || cur.Terminal() {
		return false
	}
	return next.rank() >= cur.rank()
}

func stale(cur, in int64) bool {
	return in > 0 && cur > 0 && in < cur
}

// matchItems pairs each incoming item with an index into cur, or -1 when
// it is new. Items with an id match by id first. The rest match by name
// and variant in order of occurrence: the n-th incoming line of a name
// pairs with the n-th unclaimed stored line of that name, so repeated
// lines stay distinct. Two different ids never match.
func matchItems(cur, in []Item) []int {
	match := make([]int, len(in))
	claimed := make([]bool, len(cur))
	for i, it := range in {
		match[i] = -1
		if it.ID == 0 {
			continue
		}
		for j := range cur {
			if !claimed[j] && cur[j].ID == it.ID {
				match[i], claimed[j] = j, true
				break
			}
		}
	}
	for i, it := range in {
		if match[i] >= 0 {
			continue
		}
		key := it.nameKey()
		for j := range cur {
			if claimed[j] || (it.ID != 0 && cur[j].ID != 0) || cur[j].nameKey() != key {
				continue
			}
			match[i], claimed[j] = j, true
			break
		}
	}
	return match
}

func indexOf(list []Order, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func sortByCreated(list []Order) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
