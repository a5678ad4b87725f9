// Package fallback is the deterministic responder used when the
// generative-language provider is unavailable, rate-limited, or not
// configured. It matches user text against a priority-ordered rule table
// and composes a farm-context-aware reply; any non-empty input always
// produces a non-empty answer.
package fallback

import (
	"fmt"
	"strings"
	"time"

	"farm-advisory-agent/internal/domain"
	"farm-advisory-agent/internal/suggest"
)

// shortFollowUpLimit is the character threshold under which a message is
// treated as a follow-up to the previous turn rather than a fresh question.
const shortFollowUpLimit = 24

// Reply is the composed answer plus advisory metadata.
type Reply struct {
	Content  string
	Metadata domain.MessageMetadata
}

// input bundles everything a rule may consult.
type input struct {
	message string
	lower   string
	snap    *domain.TelemetrySnapshot
	history []domain.ChatMessage
	now     time.Time
}

// rule pairs a predicate with a composer. Rules run in table order; the
// first match wins.
type rule struct {
	name    string
	match   func(in input) bool
	compose func(in input) Reply
}

// Composer evaluates the rule cascade.
type Composer struct {
	now   func() time.Time
	rules []rule
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock overrides the wall clock used for "time since reading" phrasing.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

// NewComposer builds the composer with its full rule table.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.rules = []rule{
		{name: "short-follow-up", match: matchShortFollowUp, compose: composeCropFollowUp},
		{name: "farm-status", match: matchFarmStatus, compose: composeFarmStatus},
		{name: "sensor-live-value", match: matchSensorTopic, compose: composeSensorReading},
	}
	for _, b := range topicBuckets {
		bucket := b
		c.rules = append(c.rules, rule{
			name: bucket.name,
			match: func(in input) bool {
				return containsAny(in.lower, bucket.keywords) || containsWord(in.lower, bucket.words)
			},
			compose: func(in input) Reply { return composeTopic(in, bucket) },
		})
	}
	c.rules = append(c.rules, rule{
		name:    "universal",
		match:   func(input) bool { return true },
		compose: composeUniversal,
	})
	return c
}

// Respond runs the cascade for one user message. The message is expected to
// be non-empty; callers trim before invoking.
func (c *Composer) Respond(message string, snap *domain.TelemetrySnapshot, history []domain.ChatMessage) Reply {
	in := input{
		message: strings.TrimSpace(message),
		lower:   strings.ToLower(strings.TrimSpace(message)),
		snap:    snap,
		history: history,
		now:     c.now(),
	}
	for _, r := range c.rules {
		if r.match(in) {
			return r.compose(in)
		}
	}
	// Unreachable: the universal rule matches everything.
	return composeUniversal(in)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Rule 1: short follow-up with a named crop
// ---------------------------------------------------------------------------

var knownCrops = []string{
	"banana", "tomato", "maize", "corn", "rice", "wheat", "cassava",
	"beans", "potato", "coffee", "tea", "onion", "cabbage", "kale",
	"mango", "avocado", "sugarcane",
}

func namedCrop(lower string) string {
	for _, crop := range knownCrops {
		if strings.Contains(lower, crop) {
			return crop
		}
	}
	return ""
}

func matchShortFollowUp(in input) bool {
	return len(in.message) < shortFollowUpLimit &&
		len(in.history) > 0 &&
		namedCrop(in.lower) != ""
}

func composeCropFollowUp(in input) Reply {
	crop := namedCrop(in.lower)
	var b strings.Builder
	fmt.Fprintf(&b, "For %s: ", crop)
	b.WriteString(cropGuidance(crop))
	if line := farmConditionsLine(in.snap); line != "" {
		b.WriteString(" ")
		b.WriteString(line)
	}
	return Reply{
		Content: b.String(),
		Metadata: domain.MessageMetadata{
			SuggestedActions: []string{
				fmt.Sprintf("Check ideal soil pH for %s", crop),
				fmt.Sprintf("Review the watering schedule for %s", crop),
			},
			Confidence: 0.75,
		},
	}
}

func cropGuidance(crop string) string {
	switch crop {
	case "banana", "sugarcane", "rice":
		return "this crop is water-hungry, so keep soil moisture on the higher end of the healthy range and feed regularly with potassium-rich fertilizer."
	case "tomato", "potato", "onion", "cabbage", "kale":
		return "aim for slightly acidic to neutral soil, consistent moderate watering, and watch closely for fungal disease when humidity is high."
	case "coffee", "tea", "avocado", "mango":
		return "this perennial prefers well-drained soil and steady conditions; mulch heavily and avoid waterlogging the root zone."
	default:
		return "aim for well-drained soil near neutral pH, steady moisture, and a balanced fertilizer at planting time."
	}
}

// ---------------------------------------------------------------------------
// Rule 2: direct farm-status queries
// ---------------------------------------------------------------------------

var farmStatusPhrases = []string{
	"how is my farm", "how's my farm", "how is the farm", "farm doing",
	"soil doing", "crop doing", "crops doing", "farm status", "farm health",
	"overall health", "how are things",
}

func matchFarmStatus(in input) bool {
	return containsAny(in.lower, farmStatusPhrases)
}

func composeFarmStatus(in input) Reply {
	if in.snap == nil || len(in.snap.Sensors) == 0 {
		return Reply{
			Content: "I don't have any sensor data for your farm yet, so I can't judge its health. Once sensors start reporting, ask me again and I'll walk through every reading.",
			Metadata: domain.MessageMetadata{
				SuggestedActions: []string{"Install sensors to start health tracking"},
				Confidence:       0.7,
			},
		}
	}

	var (
		items     []classifiedReading
		good      int
		counted   int
		sensorIDs []string
	)
	for _, s := range in.snap.Sensors {
		band := suggest.Band(s.Type, s.Value)
		if band == suggest.BandUnknown {
			continue
		}
		counted++
		if band == suggest.BandGood {
			good++
		}
		items = append(items, classifiedReading{reading: s, band: band})
		sensorIDs = append(sensorIDs, s.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here's the picture for %s:\n", farmDisplayName(in.snap))
	for _, it := range items {
		fmt.Fprintf(&b, "- %s: %s %s (%s)\n",
			it.reading.Name, formatValue(it.reading), it.reading.Unit, bandWord(it.band))
	}
	if counted > 0 {
		fmt.Fprintf(&b, "Overall health: %d%% of readings look good.\n", good*100/counted)
	} else {
		b.WriteString("None of the current sensors report a category I can judge.\n")
	}

	remediation := topRemediation(items)
	if len(remediation) > 0 {
		b.WriteString("Top things to address:\n")
		for i, r := range remediation {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r)
		}
	} else if counted > 0 {
		b.WriteString("Nothing needs attention right now. Keep the current routine.")
	}

	return Reply{
		Content: strings.TrimRight(b.String(), "\n"),
		Metadata: domain.MessageMetadata{
			SuggestedActions: remediation,
			RelatedSensorIDs: sensorIDs,
			Confidence:       0.9,
		},
	}
}

func bandWord(b suggest.HealthBand) string {
	switch b {
	case suggest.BandGood:
		return "looks good"
	case suggest.BandCaution:
		return "needs attention"
	case suggest.BandCritical:
		return "critical"
	}
	return "unclassified"
}

// classifiedReading pairs a reading with its health band for the farm
// summary.
type classifiedReading struct {
	reading domain.SensorReading
	band    suggest.HealthBand
}

// topRemediation returns up to three remediation items, critical bands first.
func topRemediation(items []classifiedReading) []string {
	var out []string
	add := func(want suggest.HealthBand) {
		for _, it := range items {
			if len(out) >= 3 || it.band != want {
				continue
			}
			out = append(out, remediationFor(it.reading))
		}
	}
	add(suggest.BandCritical)
	add(suggest.BandCaution)
	return out
}

func remediationFor(s domain.SensorReading) string {
	switch suggest.Category(s.Type) {
	case suggest.CategoryMoisture:
		if s.Value < 30 {
			return fmt.Sprintf("Irrigate soon: %s is at %s%%", s.Name, formatValue(s))
		}
		return fmt.Sprintf("Ease off watering: %s is at %s%%", s.Name, formatValue(s))
	case suggest.CategoryPH:
		if s.Value < 6 {
			return fmt.Sprintf("Raise soil pH with lime: %s reads %s", s.Name, formatValue(s))
		}
		return fmt.Sprintf("Lower soil pH with sulfur or compost: %s reads %s", s.Name, formatValue(s))
	case suggest.CategoryTemperature:
		if s.Value < 10 {
			return fmt.Sprintf("Protect crops from cold: %s reads %s°C", s.Name, formatValue(s))
		}
		return fmt.Sprintf("Mitigate heat stress: %s reads %s°C", s.Name, formatValue(s))
	case suggest.CategoryEC:
		if s.Value < 0.8 {
			return fmt.Sprintf("Fertilize: %s shows low nutrient levels", s.Name)
		}
		return fmt.Sprintf("Leach salts with deep irrigation: %s shows high salinity", s.Name)
	}
	return fmt.Sprintf("Review %s, it is outside its healthy range", s.Name)
}

// ---------------------------------------------------------------------------
// Rule 3: sensor topic with a live reading
// ---------------------------------------------------------------------------

var sensorTopicKeywords = map[suggest.SensorCategory][]string{
	suggest.CategoryPH:          {"acidity", "acidic", "alkaline"},
	suggest.CategoryMoisture:    {"moisture", "humidity", "water level", "how wet", "how dry"},
	suggest.CategoryTemperature: {"temperature", "how hot", "how cold", "warm"},
	suggest.CategoryEC:          {"conductivity", "salinity", "nutrient level"},
}

// sensorTopicWords are matched as whole words only; "ph" as a substring
// would light up on "aphids" or "phosphorus".
var sensorTopicWords = map[suggest.SensorCategory][]string{
	suggest.CategoryPH: {"ph"},
	suggest.CategoryEC: {"ec"},
}

func askedCategory(lower string) suggest.SensorCategory {
	// Fixed probe order keeps the cascade deterministic.
	for _, cat := range []suggest.SensorCategory{
		suggest.CategoryPH,
		suggest.CategoryMoisture,
		suggest.CategoryTemperature,
		suggest.CategoryEC,
	} {
		if containsAny(lower, sensorTopicKeywords[cat]) || containsWord(lower, sensorTopicWords[cat]) {
			return cat
		}
	}
	return suggest.CategoryUnknown
}

func containsWord(lower string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func matchSensorTopic(in input) bool {
	cat := askedCategory(in.lower)
	if cat == suggest.CategoryUnknown || in.snap == nil {
		return false
	}
	for _, s := range in.snap.Sensors {
		if suggest.Category(s.Type) == cat {
			return true
		}
	}
	return false
}

func composeSensorReading(in input) Reply {
	cat := askedCategory(in.lower)
	var reading *domain.SensorReading
	for i := range in.snap.Sensors {
		if suggest.Category(in.snap.Sensors[i].Type) == cat {
			reading = &in.snap.Sensors[i]
			break
		}
	}

	band := suggest.Band(reading.Type, reading.Value)
	var b strings.Builder
	fmt.Fprintf(&b, "%s currently reads %s %s (%s).",
		reading.Name, formatValue(*reading), reading.Unit, timeSince(in.now, reading.ObservedAt))
	b.WriteString(" ")
	b.WriteString(categoryAdvice(cat, band, reading.Value))

	return Reply{
		Content: b.String(),
		Metadata: domain.MessageMetadata{
			SuggestedActions: categoryActions(cat, band),
			RelatedSensorIDs: []string{reading.ID},
			Confidence:       0.98,
		},
	}
}

func categoryAdvice(cat suggest.SensorCategory, band suggest.HealthBand, value float64) string {
	if band == suggest.BandGood {
		return "That is inside the healthy range, so no action is needed."
	}
	if band == suggest.BandUnknown {
		return "The reading doesn't look valid right now, so check the sensor before acting on it."
	}
	switch cat {
	case suggest.CategoryPH:
		if value < 6 {
			return "That is on the acidic side. Working in agricultural lime will bring it back toward neutral."
		}
		return "That is on the alkaline side. Elemental sulfur or plenty of organic compost will bring it down."
	case suggest.CategoryMoisture:
		if value < 30 {
			return "That is critically dry. Irrigate as soon as you can and consider mulching to hold moisture."
		}
		return "That is wetter than crops like. Pause irrigation and check drainage."
	case suggest.CategoryTemperature:
		if value < 10 {
			return "That is cold enough to slow growth. Cover sensitive crops, especially overnight."
		}
		return "That is hot enough to stress crops. Increase watering and provide shade where you can."
	case suggest.CategoryEC:
		if value < 0.8 {
			return "Nutrient levels look low. A balanced fertilizer application should help."
		}
		return "Salinity is high. A deep leaching irrigation will flush excess salts."
	}
	return "Keep an eye on it and re-check after your next field visit."
}

func categoryActions(cat suggest.SensorCategory, band suggest.HealthBand) []string {
	if band == suggest.BandGood {
		return []string{"Keep monitoring on the current schedule"}
	}
	switch cat {
	case suggest.CategoryPH:
		return []string{"Adjust soil pH", "Re-test in two weeks"}
	case suggest.CategoryMoisture:
		return []string{"Adjust irrigation", "Check field drainage"}
	case suggest.CategoryTemperature:
		return []string{"Protect crops from temperature stress"}
	case suggest.CategoryEC:
		return []string{"Review fertilization", "Re-check conductivity after irrigating"}
	}
	return nil
}

// timeSince renders a coarse "measured X ago" phrase.
func timeSince(now, observed time.Time) string {
	if observed.IsZero() {
		return "reading time unknown"
	}
	d := now.Sub(observed)
	switch {
	case d < time.Minute:
		return "measured just now"
	case d < time.Hour:
		return fmt.Sprintf("measured %d min ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("measured %d h ago", int(d.Hours()))
	default:
		return fmt.Sprintf("measured %d days ago", int(d.Hours()/24))
	}
}

// ---------------------------------------------------------------------------
// Rule 4: topic-keyword cascade
// ---------------------------------------------------------------------------

type topicBucket struct {
	name     string
	keywords []string
	words    []string // matched as whole words, for short terms like "rain"
	guidance string
	actions  []string
}

// topicBuckets run in this order; earlier buckets win ties.
var topicBuckets = []topicBucket{
	{
		name:     "pests",
		keywords: []string{"pest", "insect", "bug", "aphid", "caterpillar", "disease", "fungus", "blight", "mildew", "rot"},
		guidance: "Start by identifying the exact pest or disease before treating: check leaf undersides, stems, and the soil line. Remove badly affected plants, encourage natural predators, and reach for targeted treatments like neem oil before broad-spectrum pesticides.",
		actions:  []string{"Photograph and identify the pest", "Remove heavily infested plants", "Apply a targeted treatment such as neem oil"},
	},
	{
		name:     "fertilizer",
		keywords: []string{"fertilizer", "fertiliser", "nutrient", "nitrogen", "phosphorus", "potassium", "npk", "manure"},
		guidance: "Feed based on evidence, not habit: a soil test tells you which of N, P, and K is actually short. Split applications beat one heavy dose, and well-rotted manure or compost improves the soil while it feeds.",
		actions:  []string{"Run a soil nutrient test", "Split fertilizer into smaller applications", "Add compost or well-rotted manure"},
	},
	{
		name:     "planting",
		keywords: []string{"plant", "sow", "seed", "variety", "what should i grow", "crop selection", "rotation", "spacing"},
		guidance: "Match the crop to your conditions: soil pH, water availability, and season length matter more than seed price. Rotate plant families year to year to break pest cycles, and respect recommended spacing so plants aren't competing.",
		actions:  []string{"Check which crops suit your soil pH", "Plan a crop rotation", "Verify planting calendar for your region"},
	},
	{
		name:     "weather",
		keywords: []string{"weather", "forecast", "drought", "frost", "storm", "climate", "season"},
		words:    []string{"rain", "rainy", "rains"},
		guidance: "Plan field work around the forecast: spray and fertilize before calm dry spells, hold irrigation when rain is coming, and protect tender crops ahead of frost or storms.",
		actions:  []string{"Check the forecast before spraying or irrigating", "Prepare frost or storm protection"},
	},
	{
		name:     "soil",
		keywords: []string{"soil", "compost", "mulch", "erosion", "tillage", "organic matter"},
		guidance: "Healthy soil is the foundation of everything else. Add organic matter every season, keep the surface covered with mulch or cover crops, and till as little as possible to protect soil structure and life.",
		actions:  []string{"Add compost this season", "Mulch exposed soil", "Reduce tillage where possible"},
	},
	{
		name:     "irrigation",
		keywords: []string{"irrigation", "irrigate", "watering", "drip", "sprinkler", "water my"},
		guidance: "Water deeply and less often rather than a little every day, and do it early morning or evening to cut evaporation. Drip lines put water at the roots and typically save a third or more compared to overhead watering.",
		actions:  []string{"Shift watering to early morning", "Consider drip irrigation", "Let moisture sensors drive the schedule"},
	},
	{
		name:     "tools",
		keywords: []string{"tool", "equipment", "tractor", "machete", "sprayer", "machinery"},
		guidance: "Well-maintained tools pay for themselves: clean and dry them after use, sharpen cutting edges regularly, and service machinery before the busy season rather than during it.",
		actions:  []string{"Service equipment before peak season", "Clean and sharpen hand tools"},
	},
	{
		name:     "harvest",
		keywords: []string{"harvest", "storage", "store", "post-harvest", "yield", "ripen"},
		guidance: "Harvest in the cool of the morning and handle produce gently: most post-harvest loss comes from bruising and heat. Cure or dry crops properly before storage, and keep the store cool, dry, and ventilated.",
		actions:  []string{"Harvest early in the day", "Check storage ventilation and dryness"},
	},
	{
		name:     "business",
		keywords: []string{"price", "market", "sell", "profit", "cost", "business", "income", "buyer"},
		guidance: "Know your cost of production per unit before you negotiate: it tells you which price is a win. Selling together with neighboring farms and comparing several buyers usually beats taking the first offer at the gate.",
		actions:  []string{"Work out cost of production per unit", "Compare prices across buyers"},
	},
	{
		name:     "sustainability",
		keywords: []string{"sustainab", "organic", "environment", "biodiversity", "regenerative", "carbon"},
		guidance: "Sustainable practices tend to pay off within a few seasons: cover crops and compost rebuild fertility, hedgerows bring in pollinators and pest predators, and reduced chemical use cuts input costs.",
		actions:  []string{"Try a cover crop on one field", "Plant a hedgerow or flower strip"},
	},
	{
		name:     "livestock",
		keywords: []string{"livestock", "cattle", "cow", "goat", "sheep", "chicken", "poultry", "pig"},
		guidance: "The basics carry most of the weight with animals: clean water always available, consistent feeding, dry shelter, and a deworming and vaccination schedule you actually keep. Manure, composted, closes the loop back to your fields.",
		actions:  []string{"Review the vaccination and deworming schedule", "Compost manure for the fields"},
	},
	{
		name:     "technology",
		keywords: []string{"sensor", "technology", "app", "drone", "smart farm", "automation", "data"},
		guidance: "Start small with farm technology: a couple of soil moisture and pH sensors on your most valuable field give the fastest payback, and the data builds a record you can act on season after season.",
		actions:  []string{"Add sensors to your highest-value field", "Review sensor data weekly"},
	},
}

func composeTopic(in input, bucket topicBucket) Reply {
	var b strings.Builder
	b.WriteString(bucket.guidance)
	if line := farmConditionsLine(in.snap); line != "" {
		b.WriteString(" ")
		b.WriteString(line)
	}
	return Reply{
		Content: b.String(),
		Metadata: domain.MessageMetadata{
			SuggestedActions: bucket.actions,
			Confidence:       0.7,
		},
	}
}

// ---------------------------------------------------------------------------
// Rule 5: universal fallback
// ---------------------------------------------------------------------------

func composeUniversal(in input) Reply {
	var b strings.Builder
	switch classifyTone(in.lower) {
	case "question":
		b.WriteString("Good question. ")
	case "problem":
		b.WriteString("Let's sort that out. ")
	case "educational":
		b.WriteString("Happy to explain. ")
	}
	b.WriteString("I can help with soil health, irrigation, pests and disease, fertilizer, planting decisions, weather planning, harvest and storage, and farm economics. Ask about any of those, or ask \"how is my farm doing\" for a full sensor rundown.")
	if line := farmConditionsLine(in.snap); line != "" {
		b.WriteString(" ")
		b.WriteString(line)
	} else {
		b.WriteString(" I don't have any farm data yet; once your sensors report, my answers get specific.")
	}
	return Reply{
		Content: b.String(),
		Metadata: domain.MessageMetadata{
			SuggestedActions: []string{"Ask \"how is my farm doing?\""},
			Confidence:       0.5,
		},
	}
}

// classifyTone picks a reply opening by shallow keyword presence. It only
// varies tone; it never changes what the answer covers.
func classifyTone(lower string) string {
	switch {
	case containsAny(lower, []string{"problem", "issue", "dying", "wilting", "sick", "help", "wrong", "failing"}):
		return "problem"
	case containsAny(lower, []string{"learn", "explain", "teach", "understand", "mean"}):
		return "educational"
	case strings.Contains(lower, "?") || containsAny(lower, []string{"what", "how", "why", "when", "which", "should"}):
		return "question"
	}
	return "statement"
}

// ---------------------------------------------------------------------------
// Shared farm-context phrasing
// ---------------------------------------------------------------------------

func farmDisplayName(snap *domain.TelemetrySnapshot) string {
	if snap == nil || snap.FarmName == "" {
		return "your farm"
	}
	if snap.Location != "" {
		return fmt.Sprintf("%s (%s)", snap.FarmName, snap.Location)
	}
	return snap.FarmName
}

// farmConditionsLine renders a one-sentence annotation of live conditions,
// or "" when no farm context is available.
func farmConditionsLine(snap *domain.TelemetrySnapshot) string {
	if snap == nil {
		return ""
	}
	var parts []string
	for _, s := range snap.Sensors {
		if suggest.Category(s.Type) == suggest.CategoryUnknown {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s%s", s.Name, formatValue(s), unitSuffix(s.Unit)))
		if len(parts) == 3 {
			break
		}
	}
	if len(parts) == 0 {
		if snap.FarmName != "" {
			return fmt.Sprintf("On %s I don't see live sensor readings right now.", farmDisplayName(snap))
		}
		return ""
	}
	line := fmt.Sprintf("On %s right now: %s.", farmDisplayName(snap), strings.Join(parts, ", "))
	if snap.Notes != "" {
		line += fmt.Sprintf(" Your notes mention: %s.", snap.Notes)
	}
	return line
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func formatValue(s domain.SensorReading) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", s.Value), "0"), ".")
}
