package wisphub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SessionCookie is the django session cookie whose expiry decides whether
	// a cached jar can still be used.
	SessionCookie = "sessionid"
	// CatalogKey is the single shared key the plan catalog is persisted under.
	CatalogKey = "plans"
)

func jarKey(account string) string {
	return fmt.Sprintf("%s-cookies", account)
}

type Outlet struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// Plan is a voucher product as offered on the creation form, enriched with
// the pricing of the matching row of the pricing table when there is one.
type Plan struct {
	Id       string   `json:"id"`
	Router   string   `json:"router"`
	Name     string   `json:"name"`
	Prefix   string   `json:"prefix"`
	LongName string   `json:"long_name,omitempty"`
	Price    *float64 `json:"price"`
	Currency *string  `json:"currency"`
	Outlets  []Outlet `json:"outlets"`
}

func (p Plan) HasPricing() bool {
	return p.Price != nil
}

// OutletId returns the id of the outlet with the given name among the
// outlets the plan can be sold at.
func (p Plan) OutletId(outlet string) (string, bool) {
	for _, o := range p.Outlets {
		if strings.EqualFold(strings.TrimSpace(o.Name), strings.TrimSpace(outlet)) {
			return o.Id, true
		}
	}
	return "", false
}

type Catalog struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Plans       []Plan    `json:"plans"`
}

// ForOutlet returns the plans that can be sold at outlet, in catalog order.
func (c Catalog) ForOutlet(outlet string) []Plan {
	plans := []Plan{}
	for _, p := range c.Plans {
		if _, ok := p.OutletId(outlet); ok {
			plans = append(plans, p)
		}
	}
	return plans
}

// Find returns the plan with the given id.
func (c Catalog) Find(id string) (Plan, bool) {
	for _, p := range c.Plans {
		if p.Id == id {
			return p, true
		}
	}
	return Plan{}, false
}

type TaskStatus int

const (
	TaskProgress TaskStatus = iota
	TaskSuccess
	TaskFailure
)

// ParseTaskStatus maps the status string reported by the portal's task
// endpoint. anything that is not an explicit success or failure (PENDING,
// STARTED, RETRY, ...) counts as progress.
func ParseTaskStatus(status string) TaskStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS":
		return TaskSuccess
	case "FAILURE", "REVOKED":
		return TaskFailure
	}
	return TaskProgress
}

func (s TaskStatus) String() string {
	switch s {
	case TaskSuccess:
		return "SUCCESS"
	case TaskFailure:
		return "FAILURE"
	}
	return "PROGRESS"
}

// Voucher is what a successful creation request yields.
type Voucher struct {
	TaskId   string `json:"task_id"`
	Code     string `json:"code"`
	LoginUrl string `json:"login_url,omitempty"`
	// Details holds every labeled field of the confirmation page.
	Details map[string]string `json:"details"`
}

type AccessCode struct {
	Id          string     `json:"id"`
	Code        string     `json:"code"`
	PointOfSale string     `json:"point_of_sale"`
	CreatedAt   time.Time  `json:"created_at"`
	SoldAt      *time.Time `json:"sold_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Active      bool       `json:"active"`
	State       string     `json:"state"`
}

type PlanReport struct {
	Plan         Plan         `json:"plan"`
	RecordsTotal int          `json:"records_total"`
	AccessCodes  []AccessCode `json:"access_codes"`
}

type Report struct {
	Outlet string       `json:"outlet"`
	From   time.Time    `json:"from"`
	To     *time.Time   `json:"to,omitempty"`
	Total  int          `json:"total"`
	Plans  []PlanReport `json:"plans"`
}

// flexibleId accepts both json strings and numbers, the portal is not
// consistent about which one it renders ids as.
type flexibleId string

func (f *flexibleId) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		*f = flexibleId(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("id is neither a string nor a number: %s", string(data))
	}
	*f = flexibleId(n.String())
	return nil
}

// flexibleBool accepts json booleans, 0/1 and the spanish yes/no strings
// the listing uses for its "activa" column.
type flexibleBool bool

func (f *flexibleBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var b bool
	if json.Unmarshal(data, &b) == nil {
		*f = flexibleBool(b)
		return nil
	}
	var n float64
	if json.Unmarshal(data, &n) == nil {
		*f = n != 0
		return nil
	}
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("invalid boolean: %s", string(data))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "si", "sí", "true", "1", "activa", "activo":
		*f = true
		return nil
	case "", "no", "false", "0", "inactiva", "inactivo":
		*f = false
		return nil
	}
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean: %q", s)
	}
	*f = flexibleBool(parsed)
	return nil
}
