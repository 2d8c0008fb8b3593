package domain

// TypologyLabel names a category of financial-crime behavior.
type TypologyLabel string

// Known typology labels.
const (
	TypologyStructuring   TypologyLabel = "structuring"
	TypologyLayering      TypologyLabel = "layering"
	TypologyWireFraud     TypologyLabel = "wire-fraud"
	TypologyCashBusiness  TypologyLabel = "cash-intensive-business"
	TypologyIdentityTheft TypologyLabel = "identity-theft"
	TypologyRapidMovement TypologyLabel = "rapid-movement"
	TypologyRoundTripping TypologyLabel = "round-tripping"
	TypologyUnknown       TypologyLabel = "unknown"
)

// TypologyPriority is the fixed tie-break ordering: when two labels score
// equally, the one earlier in this list wins. Stable across releases.
var TypologyPriority = []TypologyLabel{
	TypologyStructuring,
	TypologyLayering,
	TypologyRapidMovement,
	TypologyWireFraud,
	TypologyRoundTripping,
	TypologyCashBusiness,
	TypologyIdentityTheft,
}

// TypologyScore is one label's aggregate match against the fired indicators.
type TypologyScore struct {
	Label TypologyLabel `json:"label"`
	Score float64       `json:"score"`
}

// TypologyClassification is the classifier output: the winning label, its
// normalized confidence in [0,1], and the ranked runner-up labels.
type TypologyClassification struct {
	Label      TypologyLabel   `json:"label"`
	Confidence float64         `json:"confidence"`
	RunnersUp  []TypologyScore `json:"runnersUp,omitempty"`
}
