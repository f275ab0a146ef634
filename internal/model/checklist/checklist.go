package checklist

// Phase groups checklist items by the WHO surgical safety checklist stage.
type Phase string

const (
	PhaseSignIn  Phase = "sign-in"
	PhaseTimeOut Phase = "time-out"
	PhaseSignOut Phase = "sign-out"
)

// Item captures one surgical safety checklist requirement exposed to the operator UI.
type Item struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Phase     Phase    `json:"phase"`
	Keywords  []string `json:"keywords,omitempty"` // 用于启发式合规检测的关键词
	Completed bool     `json:"completed"`
}

// Seed provides the default surgical safety checklist.
func Seed() []Item {
	return []Item{
		{ID: "1", Phase: PhaseSignIn, Text: "Patient identity verified", Keywords: []string{"identity", "date of birth", "wristband", "confirm your name"}},
		{ID: "2", Phase: PhaseSignIn, Text: "Surgical site marked", Keywords: []string{"site marked", "marking", "marked the site"}},
		{ID: "3", Phase: PhaseSignIn, Text: "Anesthesia safety check completed", Keywords: []string{"anesthesia check", "anaesthesia check", "machine check"}},
		{ID: "4", Phase: PhaseSignIn, Text: "Pulse oximeter on patient and functioning", Keywords: []string{"pulse ox", "oximeter", "sats"}},
		{ID: "5", Phase: PhaseSignIn, Text: "Known allergies verified", Keywords: []string{"allerg"}},
		{ID: "6", Phase: PhaseSignIn, Text: "Difficult airway/aspiration risk assessed", Keywords: []string{"airway", "aspiration"}},
		{ID: "7", Phase: PhaseSignIn, Text: "Blood loss risk assessed", Keywords: []string{"blood loss", "crossmatch", "units available"}},
		{ID: "8", Phase: PhaseTimeOut, Text: "Essential imaging displayed", Keywords: []string{"imaging", "x-ray", "scan displayed", "ct"}},
		{ID: "9", Phase: PhaseTimeOut, Text: "Antibiotic prophylaxis given", Keywords: []string{"antibiotic", "prophylaxis", "cefazolin"}},
		{ID: "10", Phase: PhaseTimeOut, Text: "All team members introduced", Keywords: []string{"introduce", "my name is", "introductions"}},
		{ID: "11", Phase: PhaseTimeOut, Text: "Critical steps reviewed", Keywords: []string{"critical step", "critical events", "anticipated"}},
		{ID: "12", Phase: PhaseTimeOut, Text: "Sterility confirmed", Keywords: []string{"steril", "indicator"}},
		{ID: "13", Phase: PhaseTimeOut, Text: "Equipment concerns addressed", Keywords: []string{"equipment issue", "equipment concern", "equipment problem"}},
		{ID: "14", Phase: PhaseTimeOut, Text: "Patient positioning verified", Keywords: []string{"position", "supine", "prone", "lateral"}},
		{ID: "15", Phase: PhaseTimeOut, Text: "Temperature management plan in place", Keywords: []string{"temperature", "warming", "bair hugger"}},
		{ID: "16", Phase: PhaseTimeOut, Text: "VTE prophylaxis plan confirmed", Keywords: []string{"vte", "dvt", "heparin", "compression stockings"}},
		{ID: "17", Phase: PhaseSignOut, Text: "Specimen labeling reviewed", Keywords: []string{"specimen", "label"}},
		{ID: "18", Phase: PhaseSignOut, Text: "Equipment counts complete", Keywords: []string{"count", "sponge", "needle", "instrument count"}},
		{ID: "19", Phase: PhaseSignOut, Text: "Key concerns for recovery discussed", Keywords: []string{"recovery", "post-op concern", "postoperative"}},
		{ID: "20", Phase: PhaseSignOut, Text: "Post-op destination confirmed", Keywords: []string{"destination", "icu", "pacu", "ward"}},
	}
}
