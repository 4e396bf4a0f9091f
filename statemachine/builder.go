package statemachine

// Builder provides a fluent API for constructing definitions in code.
//
//	def, err := NewBuilder("review").
//		Initial("pending").
//		State("pending").On("APPROVE", "approved").
//		State("approved").Final().
//		Build()
type Builder struct {
	def     *Definition
	current *StateNode
}

// NewBuilder creates a new definition builder.
func NewBuilder(id string) *Builder {
	return &Builder{
		def: &Definition{
			ID:     id,
			States: make(map[string]*StateNode),
		},
	}
}

// Initial sets the initial state.
func (b *Builder) Initial(state string) *Builder {
	b.def.Initial = state

	return b
}

// Context sets the initial context.
func (b *Builder) Context(data map[string]any) *Builder {
	b.def.Context = data

	return b
}

// State starts (or resumes) a state at a dotted path, creating missing parents.
// Subsequent calls configure this state.
func (b *Builder) State(path string) *Builder {
	if node, ok := b.def.Lookup(path); ok {
		b.current = node

		return b
	}

	node := &StateNode{}
	parent := parentPath(path)
	key := path[len(parent):]

	if parent == "" {
		b.def.States[key] = node
	} else {
		key = key[len(PathSeparator):]

		parentNode, ok := b.def.Lookup(parent)
		if !ok {
			parentNode = b.State(parent).current
		}

		if parentNode.States == nil {
			parentNode.States = make(map[string]*StateNode)
		}

		parentNode.States[key] = node
	}

	b.current = node

	return b
}

// InitialChild sets the initial child of the current (compound) state.
func (b *Builder) InitialChild(child string) *Builder {
	b.current.Initial = child

	return b
}

// On adds an unguarded transition from the current state.
func (b *Builder) On(event, target string, actions ...string) *Builder {
	return b.OnGuarded(event, target, nil, actions...)
}

// OnGuarded adds a guarded transition from the current state.
func (b *Builder) OnGuarded(event, target string, guard *GuardConfig, actions ...string) *Builder {
	if b.current.On == nil {
		b.current.On = make(map[string]TransitionList)
	}

	b.current.On[event] = append(b.current.On[event], TransitionConfig{
		Target:  target,
		Guard:   guard,
		Actions: actions,
	})

	return b
}

// OnRoot adds a machine-level transition, handled from every state.
func (b *Builder) OnRoot(event, target string, actions ...string) *Builder {
	if b.def.On == nil {
		b.def.On = make(map[string]TransitionList)
	}

	b.def.On[event] = append(b.def.On[event], TransitionConfig{Target: target, Actions: actions})

	return b
}

// Entry appends entry actions to the current state.
func (b *Builder) Entry(actions ...string) *Builder {
	b.current.Entry = append(b.current.Entry, actions...)

	return b
}

// Exit appends exit actions to the current state.
func (b *Builder) Exit(actions ...string) *Builder {
	b.current.Exit = append(b.current.Exit, actions...)

	return b
}

// Tags adds tags to the current state.
func (b *Builder) Tags(tags ...string) *Builder {
	b.current.Tags = append(b.current.Tags, tags...)

	return b
}

// Final marks the current state as final.
func (b *Builder) Final() *Builder {
	b.current.Type = StateTypeFinal

	return b
}

// Build validates and returns the definition.
func (b *Builder) Build() (*Definition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}

	return b.def, nil
}

// MustBuild is Build that panics on error, for tests and static definitions.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}

	return def
}
