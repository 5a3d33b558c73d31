package flow

import (
	"math"
	"testing"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/models"
)

func testCatalogs(t *testing.T, min, max int) *catalog.Catalogs {
	t.Helper()
	years, err := catalog.NewYearCatalog(min, max)
	if err != nil {
		t.Fatalf("NewYearCatalog: %v", err)
	}
	c, err := catalog.New(years)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func TestValidateGreeting(t *testing.T) {
	for _, in := range []string{"hi", "HI", "Hello", "hey"} {
		if r := ValidateGreeting(in); !r.Accepted() {
			t.Errorf("expected %q to be accepted", in)
		}
	}
	for _, in := range []string{"", "hiya", "2019", "hi there"} {
		r := ValidateGreeting(in)
		if r.Accepted() {
			t.Errorf("expected %q to be rejected", in)
			continue
		}
		if r.Rejected.Reason != ReasonGreetingRequired {
			t.Errorf("expected reason %s, got %s", ReasonGreetingRequired, r.Rejected.Reason)
		}
	}
}

func TestValidateYear(t *testing.T) {
	c := testCatalogs(t, 2015, 2020)
	tests := []struct {
		in     string
		want   int
		reason Reason
	}{
		{"2019", 2019, ""},
		{"2015", 2015, ""},
		{"2020", 2020, ""},
		{"2030", 0, ReasonOutOfRange},
		{"2014", 0, ReasonOutOfRange},
		{"twenty", 0, ReasonInvalid},
		{"2019.5", 0, ReasonInvalid},
		{"", 0, ReasonInvalid},
	}
	for _, tt := range tests {
		r := ValidateYear(tt.in, c.Years)
		if tt.reason == "" {
			if !r.Accepted() {
				t.Errorf("%q: unexpected rejection %v", tt.in, r.Rejected)
				continue
			}
			if r.Value.Int != tt.want {
				t.Errorf("%q: expected %d, got %d", tt.in, tt.want, r.Value.Int)
			}
			continue
		}
		if r.Accepted() {
			t.Errorf("%q: expected rejection", tt.in)
			continue
		}
		if r.Rejected.Reason != tt.reason {
			t.Errorf("%q: expected reason %s, got %s", tt.in, tt.reason, r.Rejected.Reason)
		}
		if r.Rejected.Stage != models.StageAwaitingYear {
			t.Errorf("%q: expected stage %s, got %s", tt.in, models.StageAwaitingYear, r.Rejected.Stage)
		}
	}
}

func TestValidateMonthCaseInsensitive(t *testing.T) {
	c := testCatalogs(t, 2000, 2023)
	for _, in := range []string{"JANUARY", "january", "January"} {
		r := ValidateMonth(in, c.Months)
		if !r.Accepted() {
			t.Fatalf("%q: unexpected rejection", in)
		}
		if r.Value.Int != 1 {
			t.Errorf("%q: expected 1, got %d", in, r.Value.Int)
		}
		if r.Value.Display != "January" {
			t.Errorf("%q: expected display January, got %q", in, r.Value.Display)
		}
	}
	if r := ValidateMonth("Janvier", c.Months); r.Accepted() || r.Rejected.Reason != ReasonInvalidMonth {
		t.Errorf("expected invalid month rejection, got %+v", r)
	}
}

func TestValidateDistrictNormalizes(t *testing.T) {
	c := testCatalogs(t, 2000, 2023)
	want := ValidateDistrict("Dhaka", c.Districts)
	if !want.Accepted() {
		t.Fatalf("Dhaka rejected")
	}
	for _, in := range []string{"  dhaka ", "DHAKA", "dhaka"} {
		r := ValidateDistrict(in, c.Districts)
		if !r.Accepted() {
			t.Fatalf("%q: unexpected rejection", in)
		}
		if r.Value.Int != want.Value.Int {
			t.Errorf("%q: expected code %d, got %d", in, want.Value.Int, r.Value.Int)
		}
	}
	r := ValidateDistrict("cox's   bazar", c.Districts)
	if !r.Accepted() || r.Value.Display != "Cox's Bazar" {
		t.Errorf("expected Cox's Bazar, got %+v", r)
	}
	if r := ValidateDistrict("Atlantis", c.Districts); r.Accepted() || r.Rejected.Reason != ReasonNotRecognized {
		t.Errorf("expected not recognized rejection, got %+v", r)
	}
}

func TestValidateFloatIsUnbounded(t *testing.T) {
	for _, in := range []string{"120.5", "-40", "1e9", "0", "inf"} {
		if r := ValidateFloat(models.StageAwaitingRainfall, in); !r.Accepted() {
			t.Errorf("%q: expected acceptance", in)
		}
	}
	r := ValidateFloat(models.StageAwaitingHumidity, "wet")
	if r.Accepted() {
		t.Fatal("expected rejection")
	}
	if r.Rejected.Stage != models.StageAwaitingHumidity || r.Rejected.Reason != ReasonInvalid {
		t.Errorf("unexpected rejection %+v", r.Rejected)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		120.5:        "120.5",
		78:           "78.0",
		-3:           "-3.0",
		0.25:         "0.25",
		math.Inf(1):  "inf",
		math.Inf(-1): "-inf",
	}
	for in, want := range tests {
		if got := FormatFloat(in); got != want {
			t.Errorf("FormatFloat(%v) = %q, want %q", in, got, want)
		}
	}
	if got := FormatFloat(math.NaN()); got != "nan" {
		t.Errorf("FormatFloat(NaN) = %q, want nan", got)
	}
}
