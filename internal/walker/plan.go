package walker

import "regexp"

// Filename suffix conventions. Each marker is a path segment immediately
// before the final extension or at the end of the name: page.nancy.html,
// page.nancy, logo.copy.svg, fragment.in.html.
var (
	templateRe  = regexp.MustCompile(`\.nancy(\.[^.]+)?$`)
	copyRe      = regexp.MustCompile(`\.copy(\.[^.]+)?$`)
	inputOnlyRe = regexp.MustCompile(`\.in(\.[^.]+)?$`)
)

type action int

const (
	// actionCopy emits the file verbatim.
	actionCopy action = iota
	// actionExpand runs the file through the macro engine.
	actionExpand
	// actionSkip never emits the file; it exists only to be included.
	actionSkip
)

// classify decides what to do with a file from its base name. The
// force-copy marker wins over the template marker, so a template-looking
// name can still be copied untouched.
func classify(name string) action {
	switch {
	case copyRe.MatchString(name):
		return actionCopy
	case templateRe.MatchString(name):
		return actionExpand
	case inputOnlyRe.MatchString(name):
		return actionSkip
	default:
		return actionCopy
	}
}

// stripMarkers removes the template and force-copy markers from an output
// name, keeping any final extension.
func stripMarkers(name string) string {
	name = copyRe.ReplaceAllString(name, "$1")
	return templateRe.ReplaceAllString(name, "$1")
}
