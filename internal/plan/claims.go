package plan

// ClaimSet tracks (box, position) slots claimed by earlier items in
// one batch. Pure in-memory check, no store access.
type ClaimSet struct {
	claimed map[[2]int]struct{}
}

// NewClaimSet returns an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{claimed: make(map[[2]int]struct{})}
}

// Claim reserves a slot. It returns false when the slot was already
// claimed by an earlier item.
func (c *ClaimSet) Claim(box, position int) bool {
	key := [2]int{box, position}
	if _, taken := c.claimed[key]; taken {
		return false
	}
	c.claimed[key] = struct{}{}
	return true
}

// Claimed reports whether a slot is already reserved.
func (c *ClaimSet) Claimed(box, position int) bool {
	_, taken := c.claimed[[2]int{box, position}]
	return taken
}

// ConflictingAdds returns the indices of add items whose target slots
// collide with an earlier add in the same batch. The first claimant of
// each slot survives; later ones are flagged.
func ConflictingAdds(items []Item) map[int]bool {
	claims := NewClaimSet()
	blocked := make(map[int]bool)
	for i, it := range items {
		if it.Action != ActionAdd {
			continue
		}
		box := it.AddBox()
		for _, pos := range it.AddPositions() {
			if !claims.Claim(box, pos) {
				blocked[i] = true
				break
			}
		}
	}
	return blocked
}
