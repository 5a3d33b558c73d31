// Package catalog provides the immutable reference tables used to validate intake answers.
//
// Catalogs are built once at startup and shared read-only by every session.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Error variables for catalog construction.
var (
	ErrEmptyYearRange    = errors.New("year range is empty")
	ErrDuplicateDistrict = errors.New("duplicate district")
)

// YearCatalog is the closed range of supported years.
type YearCatalog struct {
	min int
	max int
}

// NewYearCatalog builds a catalog covering min..max inclusive.
func NewYearCatalog(min, max int) (YearCatalog, error) {
	if max < min {
		return YearCatalog{}, fmt.Errorf("%w: %d > %d", ErrEmptyYearRange, min, max)
	}
	return YearCatalog{min: min, max: max}, nil
}

// Contains reports whether y is a supported year.
func (c YearCatalog) Contains(y int) bool {
	return y >= c.min && y <= c.max
}

// Min returns the first supported year.
func (c YearCatalog) Min() int { return c.min }

// Max returns the last supported year.
func (c YearCatalog) Max() int { return c.max }

// Years returns every supported year in ascending order.
func (c YearCatalog) Years() []int {
	years := make([]int, 0, c.max-c.min+1)
	for y := c.min; y <= c.max; y++ {
		years = append(years, y)
	}
	return years
}

var monthNames = [...]string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// MonthCatalog maps case-insensitive English month names to 1..12.
type MonthCatalog struct{}

// Number returns the month number for name, matching case-insensitively.
func (MonthCatalog) Number(name string) (int, bool) {
	key := strings.ToLower(name)
	for i, m := range monthNames {
		if m == key {
			return i + 1, true
		}
	}
	return 0, false
}

// Names returns the twelve month names in calendar order, title-cased.
func (MonthCatalog) Names() []string {
	names := make([]string, len(monthNames))
	for i, m := range monthNames {
		names[i] = TitleCase(m)
	}
	return names
}

// District is one entry of the district table.
type District struct {
	Name string `json:"name"`
	Code int    `json:"code"`
}

// DistrictCatalog maps district display names to model codes.
// Entries keep their declaration order, which drives the prompt hint.
type DistrictCatalog struct {
	entries []District
	byKey   map[string]District
}

// NewDistrictCatalog builds a catalog from the given entries.
func NewDistrictCatalog(entries []District) (DistrictCatalog, error) {
	c := DistrictCatalog{
		entries: make([]District, 0, len(entries)),
		byKey:   make(map[string]District, len(entries)),
	}
	for _, d := range entries {
		key := districtKey(d.Name)
		if _, exists := c.byKey[key]; exists {
			return DistrictCatalog{}, fmt.Errorf("%w: %s", ErrDuplicateDistrict, d.Name)
		}
		c.byKey[key] = d
		c.entries = append(c.entries, d)
	}
	return c, nil
}

// Lookup finds a district by name after trimming, collapsing whitespace and case folding.
func (c DistrictCatalog) Lookup(name string) (District, bool) {
	d, ok := c.byKey[districtKey(name)]
	return d, ok
}

// Entries returns a copy of the catalog in declaration order.
func (c DistrictCatalog) Entries() []District {
	out := make([]District, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of districts.
func (c DistrictCatalog) Len() int { return len(c.entries) }

func districtKey(name string) string {
	return strings.ToLower(TitleCase(strings.Join(strings.Fields(name), " ")))
}

// TitleCase upper-cases the first letter of each whitespace separated word and
// lower-cases the rest.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// ReferenceDistricts is the district table of the reference deployment.
var ReferenceDistricts = []District{
	{Name: "Dhaka", Code: 16},
	{Name: "Chittagong", Code: 13},
	{Name: "Khulna", Code: 15},
	{Name: "Rajshahi", Code: 19},
	{Name: "Barishal", Code: 3},
	{Name: "Sylhet", Code: 4},
	{Name: "Comilla", Code: 9},
	{Name: "Rangpur", Code: 14},
	{Name: "Mymensingh", Code: 2},
	{Name: "Jessore", Code: 5},
	{Name: "Tangail", Code: 7},
	{Name: "Narail", Code: 0},
	{Name: "Bogra", Code: 10},
	{Name: "Pabna", Code: 6},
	{Name: "Narsingdi", Code: 11},
	{Name: "Feni", Code: 1},
	{Name: "Cox's Bazar", Code: 12},
	{Name: "Gazipur", Code: 8},
	{Name: "Satkhira", Code: 17},
	{Name: "Jhalokathi", Code: 18},
}

// Catalogs bundles the three reference tables handed to the flow.
type Catalogs struct {
	Years     YearCatalog
	Months    MonthCatalog
	Districts DistrictCatalog
}

// New builds Catalogs from a year range and the reference district table.
func New(years YearCatalog) (*Catalogs, error) {
	districts, err := NewDistrictCatalog(ReferenceDistricts)
	if err != nil {
		return nil, err
	}
	return &Catalogs{Years: years, Districts: districts}, nil
}
