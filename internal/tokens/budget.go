package tokens

// Budget caps the size of a rendered prompt.
type Budget struct {
	counter Counter
	limit   int
}

// NewBudget returns a budget of limit tokens measured by counter. A limit
// of zero or less disables truncation.
func NewBudget(counter Counter, limit int) *Budget {
	if counter == nil {
		counter = NewEstimator()
	}
	return &Budget{counter: counter, limit: limit}
}

// Fit drops trailing items until render(items) fits the budget. At least
// one item is always kept when items is non-empty, so a closed list never
// collapses into an empty one. It returns the kept prefix and the token
// count of its rendering.
func (b *Budget) Fit(items []string, render func([]string) string) ([]string, int) {
	n := b.counter.Count(render(items))
	if b.limit <= 0 {
		return items, n
	}

	kept := items
	for n > b.limit && len(kept) > 1 {
		kept = kept[:len(kept)-1]
		n = b.counter.Count(render(kept))
	}
	return kept, n
}
