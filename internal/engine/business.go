package engine

import "strings"

// BusinessInfo is what the fixed rules know about the business.
type BusinessInfo struct {
	Name     string   `json:"name" yaml:"name"`
	Hours    string   `json:"hours" yaml:"hours"`
	Address  string   `json:"address" yaml:"address"`
	Services []string `json:"services" yaml:"services"`
}

// DefaultBusinessInfo returns the built-in salon profile.
func DefaultBusinessInfo() BusinessInfo {
	return BusinessInfo{
		Name:     "Elegant Touch Salon",
		Hours:    "Monday-Friday: 9am-7pm, Saturday: 10am-5pm, Sunday: Closed",
		Address:  "123 Main Street, Downtown",
		Services: []string{"Haircut", "Coloring", "Styling", "Manicure", "Pedicure"},
	}
}

// Greeting is spoken when a call connects.
func (b BusinessInfo) Greeting() string {
	return "Thank you for calling " + b.Name + ". How can I help you today?"
}

// ruleAnswer matches the question against the hours, location and services
// rules, in that order.
func ruleAnswer(b BusinessInfo, question string) (string, bool) {
	q := strings.ToLower(question)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}

	switch {
	case (has("what") && has("hour")) || (has("when") && has("open", "close")):
		return "Our hours are " + b.Hours, true
	case (has("where") && has("located", "location")) || (has("what") && has("address")):
		return "We're located at " + b.Address, true
	case has("what services", "services do you offer"):
		return "We offer " + strings.Join(b.Services, ", "), true
	}
	return "", false
}
