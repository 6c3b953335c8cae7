package eventledger

// VerifyEntries walks entries from index 0 upward and returns a *ChainBreak
// for the first entry that violates the chain invariants, or nil if the
// chain is intact. An empty chain is reported as broken at index 0.
func VerifyEntries(entries []Entry) error {
	if len(entries) == 0 {
		return &ChainBreak{Index: 0, Reason: "chain has no genesis entry"}
	}
	for i, curr := range entries {
		if curr.Index != i {
			return &ChainBreak{Index: i, Reason: "index does not match position"}
		}
		if i == 0 {
			if curr.PreviousHash != GenesisPreviousHash {
				return &ChainBreak{Index: 0, Reason: "genesis previous hash is not the sentinel"}
			}
		} else if curr.PreviousHash != entries[i-1].Hash {
			return &ChainBreak{Index: i, Reason: "previous hash does not match predecessor"}
		}
		h, err := ComputeHash(curr)
		if err != nil {
			return &ChainBreak{Index: i, Reason: err.Error()}
		}
		if h != curr.Hash {
			return &ChainBreak{Index: i, Reason: "hash does not match content"}
		}
	}
	return nil
}
