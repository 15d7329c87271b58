package task

// Kind is a task type together with its policy, as seen by admission control.
type Kind struct {
	Type   string
	Policy Policy
}

// Blocks reports whether an active task of kind active prevents a candidate of kind
// candidate from starting.
//
// Rules, first applicable wins:
//  1. either side application-blocking: blocked
//  2. either side category-blocking: blocked iff categories are equal
//  3. either side class-blocking: blocked iff types are equal
//  4. otherwise: not blocked
func Blocks(candidate, active Kind) bool {
	cb, ab := candidate.Policy.Blocking, active.Policy.Blocking
	switch {
	case cb == BlockApplication || ab == BlockApplication:
		return true
	case cb == BlockCategory || ab == BlockCategory:
		return candidate.Policy.Category == active.Policy.Category
	case cb == BlockClass || ab == BlockClass:
		return candidate.Type == active.Type
	default:
		return false
	}
}

// BlockingTask returns the first task in active that blocks candidate, or nil.
//
// policyOf resolves the policy of an active task's type. The order of active determines which
// task is reported when several qualify.
func BlockingTask(candidate Kind, active []*Task, policyOf func(typ string) Policy) *Task {
	for _, t := range active {
		k := Kind{Type: t.Type()}
		if policyOf != nil {
			k.Policy = policyOf(k.Type)
		}
		if Blocks(candidate, k) {
			return t
		}
	}
	return nil
}
