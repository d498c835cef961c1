package scoring

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"
	"gopkg.in/yaml.v3"

	"github.com/mchmarny/credscore/pkg/features"
)

const (
	daysPerYear = 365
	otherOption = "Other"

	GenderFemale = "Female"
	GenderMale   = "Male"
)

// Option lists offered to applicants.
var (
	Genders        = []string{GenderFemale, GenderMale}
	Educations     = []string{"Secondary / secondary special", "Higher education", "Incomplete higher", "Lower secondary", "Academic degree"}
	FamilyStatuses = []string{"Married", "Single / not married", "Civil marriage", "Widow", "Separated"}
	HousingTypes   = []string{"House / apartment", "With parents", "Municipal apartment", "Rented apartment", "Office apartment", "Co-op apartment"}
	Occupations    = []string{"Laborers", "Core staff", "Accountants", "Managers", "Drivers", "Sales staff", "IT staff", otherOption}
	Organizations  = []string{"Business Entity Type 3", "Self-employed", otherOption, "XNA"}
)

// Prefixes of the one-hot groups set from applicant answers.
const (
	GroupGender       = "CODE_GENDER"
	GroupOwnCar       = "FLAG_OWN_CAR"
	GroupOwnRealty    = "FLAG_OWN_REALTY"
	GroupEducation    = "NAME_EDUCATION_TYPE"
	GroupFamilyStatus = "NAME_FAMILY_STATUS"
	GroupHousingType  = "NAME_HOUSING_TYPE"
	GroupOccupation   = "OCCUPATION_TYPE"
	GroupOrganization = "ORGANIZATION_TYPE"
)

// Groups are the one-hot prefixes every applicant answers.
var Groups = []string{
	GroupGender, GroupOwnCar, GroupOwnRealty, GroupEducation,
	GroupFamilyStatus, GroupHousingType, GroupOccupation, GroupOrganization,
}

var ErrInvalidApplicant = errors.New("invalid applicant")

// Applicant holds the answers of one credit applicant.
type Applicant struct {
	Gender           string  `json:"gender" yaml:"gender" validate:"required,oneof=Female Male"`
	Age              int     `json:"age" yaml:"age" validate:"min=20,max=70"`
	Education        string  `json:"education" yaml:"education" validate:"required,education"`
	FamilyStatus     string  `json:"family_status" yaml:"family_status" validate:"required,family_status"`
	HousingType      string  `json:"housing_type" yaml:"housing_type" validate:"required,housing_type"`
	Income           float64 `json:"income" yaml:"income" validate:"gte=10000"`
	Credit           float64 `json:"credit" yaml:"credit" validate:"gte=10000"`
	Annuity          float64 `json:"annuity" yaml:"annuity" validate:"gte=1000"`
	GoodsPrice       float64 `json:"goods_price" yaml:"goods_price" validate:"gte=10000"`
	EmploymentYears  int     `json:"employment_years" yaml:"employment_years" validate:"min=0,max=50"`
	Occupation       string  `json:"occupation" yaml:"occupation" validate:"required,occupation"`
	OrganizationType string  `json:"organization_type" yaml:"organization_type" validate:"required,organization_type"`
	OwnCar           bool    `json:"own_car" yaml:"own_car"`
	OwnRealty        bool    `json:"own_realty" yaml:"own_realty"`
	ExtSource1       float64 `json:"ext_source_1" yaml:"ext_source_1" validate:"min=0,max=1"`
	ExtSource2       float64 `json:"ext_source_2" yaml:"ext_source_2" validate:"min=0,max=1"`
	ExtSource3       float64 `json:"ext_source_3" yaml:"ext_source_3" validate:"min=0,max=1"`
}

// DefaultApplicant returns the answers the scoring form starts with.
func DefaultApplicant() *Applicant {
	return &Applicant{
		Gender:           GenderFemale,
		Age:              30,
		Education:        Educations[0],
		FamilyStatus:     FamilyStatuses[0],
		HousingType:      HousingTypes[0],
		Income:           50000,
		Credit:           200000,
		Annuity:          10000,
		GoodsPrice:       180000,
		EmploymentYears:  5,
		Occupation:       Occupations[0],
		OrganizationType: Organizations[0],
		OwnRealty:        true,
		ExtSource1:       0.5,
		ExtSource2:       0.5,
		ExtSource3:       0.5,
	}
}

// LoadApplicant reads a YAML or JSON applicant file on top of the default
// answers.
func LoadApplicant(path string) (*Applicant, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading applicant %s: %w", path, err)
	}
	a := DefaultApplicant()
	if err := yaml.Unmarshal(b, a); err != nil {
		return nil, fmt.Errorf("parsing applicant %s: %w", path, err)
	}
	return a, nil
}

// ValidationError lists the problems found in an applicant. It matches
// ErrInvalidApplicant with errors.Is.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidApplicant, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidApplicant
}

type rule struct {
	tag     string
	options []string
}

var rules = []rule{
	{"education", Educations},
	{"family_status", FamilyStatuses},
	{"housing_type", HousingTypes},
	{"occupation", Occupations},
	{"organization_type", Organizations},
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
	validateErr  error
)

func newValidator() (*validator.Validate, ut.Translator, error) {
	v := validator.New()

	enLocale := en.New()
	trans, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		return nil, nil, errors.New("en translator was not found")
	}
	if err := enTranslation.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, nil, fmt.Errorf("registering translations: %w", err)
	}

	for _, r := range rules {
		options := r.options
		if err := v.RegisterValidation(r.tag, func(fl validator.FieldLevel) bool {
			return slices.Contains(options, fl.Field().String())
		}); err != nil {
			return nil, nil, fmt.Errorf("registering %s rule: %w", r.tag, err)
		}

		msg := "{0} must be one of: " + strings.Join(options, ", ")
		if err := v.RegisterTranslation(r.tag, trans,
			func(ut ut.Translator) error {
				return ut.Add(r.tag, msg, true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, _ := ut.T(fe.Tag(), fe.Field())
				return t
			},
		); err != nil {
			return nil, nil, fmt.Errorf("registering %s translation: %w", r.tag, err)
		}
	}

	// Use JSON field names in messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return v, trans, nil
}

// Validate checks the applicant against the form's ranges and option lists.
func (a *Applicant) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: applicant is required", ErrInvalidApplicant)
	}
	validateOnce.Do(func() {
		validate, translator, validateErr = newValidator()
	})
	if validateErr != nil {
		return validateErr
	}

	err := validate.Struct(a)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating applicant: %w", err)
	}
	ve := &ValidationError{Problems: make([]string, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.Problems = append(ve.Problems, fe.Translate(translator))
	}
	return ve
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// dummyValues maps form answers whose indicator column carries another
// category name. The "Laborers" answer is the low-skill laborers level.
var dummyValues = map[string]map[string]string{
	GroupOccupation: {"Laborers": "Low-skill Laborers"},
}

// Record maps the applicant onto raw model inputs, the derived features and
// the one-hot indicators of the answered categories. "Other" answers set no
// indicator.
func (a *Applicant) Record() map[string]float64 {
	rec := features.DeriveRecord(map[string]float64{
		features.AmtCredit:     a.Credit,
		features.AmtGoodsPrice: a.GoodsPrice,
		features.AmtAnnuity:    a.Annuity,
		features.AmtIncome:     a.Income,
		features.DaysBirth:     float64(-a.Age * daysPerYear),
		features.DaysEmployed:  float64(-a.EmploymentYears * daysPerYear),
		features.ExtSource1:    a.ExtSource1,
		features.ExtSource2:    a.ExtSource2,
		features.ExtSource3:    a.ExtSource3,
	})

	rec[GroupGender+"_M"] = flag(a.Gender == GenderMale)
	rec[GroupOwnCar+"_Y"] = flag(a.OwnCar)
	rec[GroupOwnRealty+"_Y"] = flag(a.OwnRealty)
	for _, c := range []struct{ group, value string }{
		{GroupEducation, a.Education},
		{GroupFamilyStatus, a.FamilyStatus},
		{GroupHousingType, a.HousingType},
		{GroupOccupation, a.Occupation},
		{GroupOrganization, a.OrganizationType},
	} {
		if c.value == "" || c.value == otherOption {
			continue
		}
		v := c.value
		if mapped, ok := dummyValues[c.group][v]; ok {
			v = mapped
		}
		rec[c.group+"_"+v] = 1
	}
	return rec
}
