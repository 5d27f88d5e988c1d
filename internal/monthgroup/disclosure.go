package monthgroup

// DisclosureState is the visibility state of the month list.
type DisclosureState int

const (
	// Collapsed shows only the current month.
	Collapsed DisclosureState = iota
	// Expanded shows every month. There is no way back to Collapsed.
	Expanded
)

func (s DisclosureState) String() string {
	if s == Expanded {
		return "expanded"
	}
	return "collapsed"
}

// Disclosure tracks which month buckets are visible.
type Disclosure struct {
	current Key
	state   DisclosureState
}

// NewDisclosure starts collapsed on the given current month.
func NewDisclosure(current Key) *Disclosure {
	return &Disclosure{current: current, state: Collapsed}
}

// State returns the current state.
func (d *Disclosure) State() DisclosureState {
	return d.state
}

// Expand reveals all months.
func (d *Disclosure) Expand() {
	d.state = Expanded
}

// Visible filters chronologically sorted buckets. When collapsed only the
// current month is kept, and if it has no events the result is empty.
func (d *Disclosure) Visible(buckets []Bucket) []Bucket {
	if d.state == Expanded {
		return buckets
	}
	for _, b := range buckets {
		if b.Key == d.current {
			return []Bucket{b}
		}
	}
	return []Bucket{}
}
