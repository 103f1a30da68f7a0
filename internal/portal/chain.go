package portal

// ChainStep is the cookie set a single request in the chain left behind.
type ChainStep struct {
	Label   string
	Cookies CookieSet
}

// ChainContext is the ordered, immutable record of a resolution chain. The
// request after step n is always sent with exactly the cookies of step n.
//
// Extend never modifies the receiver so an older context stays valid, the
// zero value is an empty chain.
type ChainContext struct {
	steps []ChainStep
}

const seedLabel = "seed"

// NewChain starts a chain from the cookies the session holds for the portal.
func NewChain(seed CookieSet) ChainContext {
	return ChainContext{steps: []ChainStep{{Label: seedLabel, Cookies: seed}}}
}

func (c ChainContext) Extend(label string, cookies CookieSet) ChainContext {
	steps := make([]ChainStep, len(c.steps), len(c.steps)+1)
	copy(steps, c.steps)
	steps = append(steps, ChainStep{Label: label, Cookies: cookies})
	return ChainContext{steps: steps}
}

// Current returns the cookies the next request must be sent with.
func (c ChainContext) Current() CookieSet {
	if len(c.steps) == 0 {
		return CookieSet{}
	}
	return c.steps[len(c.steps)-1].Cookies
}

func (c ChainContext) Empty() bool {
	return len(c.steps) == 0
}

func (c ChainContext) Len() int {
	return len(c.steps)
}

func (c ChainContext) Steps() []ChainStep {
	out := make([]ChainStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// Labels returns the label of every step, starting with the seed.
func (c ChainContext) Labels() []string {
	out := make([]string, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Label
	}
	return out
}
