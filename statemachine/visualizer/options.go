package visualizer

// Options configures the visualization output.
type Options struct {
	// ShowActions includes entry/exit action names in state labels
	ShowActions bool

	// ShowGuards shows guard types as transition labels
	ShowGuards bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right)
	Direction string

	// HighlightPath highlights specific state paths through the diagram
	HighlightPath []string
}

// DefaultOptions returns sensible defaults for visualization.
func DefaultOptions() Options {
	return Options{
		ShowActions: true,
		ShowGuards:  true,
		Direction:   "TD",
	}
}

// WithShowActions enables/disables action details.
func (o Options) WithShowActions(show bool) Options {
	o.ShowActions = show

	return o
}

// WithShowGuards enables/disables guard labels.
func (o Options) WithShowGuards(show bool) Options {
	o.ShowGuards = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlightPath sets states to highlight.
func (o Options) WithHighlightPath(path []string) Options {
	o.HighlightPath = path

	return o
}
