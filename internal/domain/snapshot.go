package domain

type PoolSnapshot struct {
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Expired   int `json:"expired"`
	Discarded int `json:"discarded"`
}

type AccountPoolSnapshot struct {
	Platform    Platform  `json:"platform"`
	Available   int       `json:"available"`
	InUse       int       `json:"in_use"`
	CoolingDown int       `json:"cooling_down"`
	Banned      int       `json:"banned"`
	Accounts    []Account `json:"accounts"`
}

func (s AccountPoolSnapshot) Total() int {
	return s.Available + s.InUse + s.CoolingDown + s.Banned
}
