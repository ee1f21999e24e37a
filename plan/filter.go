package plan

// Filter returns the steps that run under flags, in their original order.
// Steps without an activation key are always kept; nested blocks are
// filtered recursively. The input is not modified.
func Filter(steps []Step, flags Flags) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if !flags.Active(s) {
			continue
		}
		if s.IsNested() {
			s.Steps = Filter(s.Steps, flags)
		}
		out = append(out, s)
	}
	return out
}

// Keys returns every activation key referenced by steps, nested blocks
// included, in order of first appearance.
func Keys(steps []Step) []string {
	var keys []string
	seen := make(map[string]bool)
	var walk func([]Step)
	walk = func(steps []Step) {
		for _, s := range steps {
			if k := NormalizeKey(s.When); k != "" && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
			if s.IsNested() {
				walk(s.Steps)
			}
		}
	}
	walk(steps)
	return keys
}
