package alerts

// Summary counts alerts by severity and type.
type Summary struct {
	Total    int          `json:"total"`
	Critical int          `json:"critical"`
	Warning  int          `json:"warning"`
	Info     int          `json:"info"`
	ByType   map[Type]int `json:"by_type"`
}

// Summarize counts alerts.
func Summarize(alerts []Alert) Summary {
	s := Summary{Total: len(alerts), ByType: make(map[Type]int)}
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityWarning:
			s.Warning++
		case SeverityInfo:
			s.Info++
		}
		s.ByType[a.Type]++
	}
	return s
}

// Filter keeps alerts matching severity and typ. Empty values match all.
func Filter(alerts []Alert, severity Severity, typ Type) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if severity != "" && a.Severity != severity {
			continue
		}
		if typ != "" && a.Type != typ {
			continue
		}
		out = append(out, a)
	}
	return out
}
