package list

import "sort"

// PartitionItems splits the item set into its pending and bought partitions and
// orders each one. The partitions are disjoint and their union is the input set.
//
// Within a partition items are ordered by last modification descending; two
// items with identical millisecond stamps fall back to item id ascending so the
// order is total and reproducible across runs. The input slice is not mutated.
func PartitionItems(items []Item) (pending []Item, bought []Item) {
	pending = make([]Item, 0, len(items))
	bought = make([]Item, 0)
	for _, item := range items {
		if item.Bought {
			bought = append(bought, item)
		} else {
			pending = append(pending, item)
		}
	}
	sortPartition(pending)
	sortPartition(bought)
	return pending, bought
}

func sortPartition(partition []Item) {
	sort.Slice(partition, func(i, j int) bool {
		if partition[i].LastModifiedAtMillis != partition[j].LastModifiedAtMillis {
			return partition[i].LastModifiedAtMillis > partition[j].LastModifiedAtMillis
		}
		return partition[i].ItemID < partition[j].ItemID
	})
}
