package session

import _ "embed"

// In-page scripts. The snapshot serializer is the only script that reads
// the DOM for recording; every selector decision is made in Go on its
// output.
var (
	//go:embed js/snapshot.js
	snapshotJS string

	//go:embed js/resolve.js
	resolveJS string

	//go:embed js/widths.js
	widthsJS string

	//go:embed js/stealth.js
	stealthJS string
)
