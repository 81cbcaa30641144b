package resolve

// CanaryPair is a pair of persons known to be distinct people. The
// guard refuses any threshold that would merge one of them.
type CanaryPair struct {
	NameA  string `json:"name_a"`
	EmailA string `json:"email_a"`
	NameB  string `json:"name_b"`
	EmailB string `json:"email_b"`
}

// CanaryViolation reports a canary pair that a scorer would merge at
// the checked threshold.
type CanaryViolation struct {
	Pair   CanaryPair `json:"pair"`
	ScoreA float64    `json:"score_a"`
	ScoreB float64    `json:"score_b"`
}

// CanaryPairs are distinct-person pairs with deliberately confusable
// names. Both production thresholds must keep them unmerged.
var CanaryPairs = []CanaryPair{
	{NameA: "John Smith", EmailA: "john@acme.com", NameB: "Jane Smith", EmailB: "jane@contoso.com"},
	{NameA: "Robert Chen", EmailA: "robert@meridian.example", NameB: "Rachel Chen", EmailB: "rachel@quartz.example"},
	{NameA: "David Park", EmailA: "david@northwind.example", NameB: "Diana Park", EmailB: "diana@fabrikam.example"},
	{NameA: "Sarah Connor", EmailA: "sarah@lakeside.example", NameB: "Susan Connor", EmailB: "susan@hillcrest.example"},
	{NameA: "Peter Wong", EmailA: "peter@apex.example", NameB: "Paula Wong", EmailB: "paula@zenith.example"},
	{NameA: "Erik Larsen", EmailA: "erik@fjord.example", NameB: "Emma Larsen", EmailB: "emma@tundra.example"},
	{NameA: "Tomas Berg", EmailA: "tomas@polar.example", NameB: "Tanya Berg", EmailB: "tanya@boreal.example"},
	{NameA: "Lucy O'Brien", EmailA: "lucy@harbor.example", NameB: "Liam O'Brien", EmailB: "liam@dockside.example"},
	{NameA: "Nina Fischer", EmailA: "nina@alpine.example", NameB: "Noah Fischer", EmailB: "noah@summit.example"},
	{NameA: "Carlos Ruiz", EmailA: "carlos@iberia.example", NameB: "Carmen Ruiz", EmailB: "carmen@atlantica.example"},
	{NameA: "Anna Kovacs", EmailA: "anna@danube.example", NameB: "Adam Kovacs", EmailB: "adam@tisza.example"},
	{NameA: "Devon Clark", EmailA: "devon@nimbus.example", NameB: "Dana Clark", EmailB: "dana@nimbus.example"},
}

// CheckCanaryGuard scores every canary pair with both scorers and
// returns the pairs that either scorer would merge at the threshold.
// An empty result means the threshold is safe to deploy.
func CheckCanaryGuard(pairs []CanaryPair, threshold float64) []CanaryViolation {
	var violations []CanaryViolation
	for _, pair := range pairs {
		scoreA := ScorePairA(pair.NameA, pair.NameB)
		scoreB := ScorePairB(pair.NameA, pair.EmailA, pair.NameB, pair.EmailB, 0)
		if scoreA >= threshold || scoreB >= threshold {
			violations = append(violations, CanaryViolation{Pair: pair, ScoreA: scoreA, ScoreB: scoreB})
		}
	}
	return violations
}
