// Package simulate generates synthetic episodes: benign background noise
// with one injected attack scenario per episode, plus the ground truth the
// judge scores against.
//
// Generation is a pure function of (episode, seed, options): the same
// inputs always yield byte-identical files.
package simulate

// Scenario names.
const (
	ScenarioValidAccount    = "auth_anomaly_valid_account"
	ScenarioBruteforce      = "auth_bruteforce_then_success"
	ScenarioLateralMovement = "lateral_like_remote_service"
)

// Scenario is an attack pattern injected into an episode.
type Scenario struct {
	Name         string
	TechniqueIDs []string
	Description  string
}

// Scenarios are cycled by episode: episode n gets Scenarios[(n-1)%3].
var Scenarios = []Scenario{
	{
		Name:         ScenarioValidAccount,
		TechniqueIDs: []string{"T1078"},
		Description:  "unusual successful login followed by activity on the target",
	},
	{
		Name:         ScenarioBruteforce,
		TechniqueIDs: []string{"T1110"},
		Description:  "repeated failed logins followed by one success",
	},
	{
		Name:         ScenarioLateralMovement,
		TechniqueIDs: []string{"T1021"},
		Description:  "suspicious remote service connection between hosts",
	},
}

// ScenarioFor returns the scenario injected into episode ep (1-based).
func ScenarioFor(ep int) Scenario {
	i := (ep - 1) % len(Scenarios)
	if i < 0 {
		i += len(Scenarios)
	}
	return Scenarios[i]
}
