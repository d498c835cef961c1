package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/credscore/pkg/scoring"
)

const (
	flagGender           = "gender"
	flagAge              = "age"
	flagEducation        = "education"
	flagFamilyStatus     = "family-status"
	flagHousingType      = "housing-type"
	flagIncome           = "income"
	flagCredit           = "credit"
	flagAnnuity          = "annuity"
	flagGoodsPrice       = "goods-price"
	flagEmploymentYears  = "employment-years"
	flagOccupation       = "occupation"
	flagOrganizationType = "organization-type"
	flagOwnCar           = "own-car"
	flagOwnRealty        = "own-realty"
	flagExtSource1       = "ext-source-1"
	flagExtSource2       = "ext-source-2"
	flagExtSource3       = "ext-source-3"
)

func oneOf(opts []string) string {
	return fmt.Sprintf("[%s]", strings.Join(opts, ", "))
}

// applicantFlags override single answers of the default or file applicant.
var applicantFlags = []cli.Flag{
	&cli.StringFlag{Name: flagGender, Usage: "Gender " + oneOf(scoring.Genders)},
	&cli.IntFlag{Name: flagAge, Usage: "Age in years (20-70)"},
	&cli.StringFlag{Name: flagEducation, Usage: "Education " + oneOf(scoring.Educations)},
	&cli.StringFlag{Name: flagFamilyStatus, Usage: "Family status " + oneOf(scoring.FamilyStatuses)},
	&cli.StringFlag{Name: flagHousingType, Usage: "Housing type " + oneOf(scoring.HousingTypes)},
	&cli.FloatFlag{Name: flagIncome, Usage: "Annual income"},
	&cli.FloatFlag{Name: flagCredit, Usage: "Credit amount"},
	&cli.FloatFlag{Name: flagAnnuity, Usage: "Loan annuity"},
	&cli.FloatFlag{Name: flagGoodsPrice, Usage: "Price of the goods the loan is for"},
	&cli.IntFlag{Name: flagEmploymentYears, Usage: "Years employed (0-50)"},
	&cli.StringFlag{Name: flagOccupation, Usage: "Occupation " + oneOf(scoring.Occupations)},
	&cli.StringFlag{Name: flagOrganizationType, Usage: "Organization type " + oneOf(scoring.Organizations)},
	&cli.BoolFlag{Name: flagOwnCar, Usage: "Owns a car"},
	&cli.BoolFlag{Name: flagOwnRealty, Usage: "Owns realty"},
	&cli.FloatFlag{Name: flagExtSource1, Usage: "External score 1 (0-1)"},
	&cli.FloatFlag{Name: flagExtSource2, Usage: "External score 2 (0-1)"},
	&cli.FloatFlag{Name: flagExtSource3, Usage: "External score 3 (0-1)"},
}

// applyApplicantFlags copies the flags set on the command line onto a.
func applyApplicantFlags(cmd *cli.Command, a *scoring.Applicant) {
	strs := map[string]*string{
		flagGender:           &a.Gender,
		flagEducation:        &a.Education,
		flagFamilyStatus:     &a.FamilyStatus,
		flagHousingType:      &a.HousingType,
		flagOccupation:       &a.Occupation,
		flagOrganizationType: &a.OrganizationType,
	}
	for name, p := range strs {
		if cmd.IsSet(name) {
			*p = cmd.String(name)
		}
	}

	ints := map[string]*int{
		flagAge:             &a.Age,
		flagEmploymentYears: &a.EmploymentYears,
	}
	for name, p := range ints {
		if cmd.IsSet(name) {
			*p = cmd.Int(name)
		}
	}

	floats := map[string]*float64{
		flagIncome:     &a.Income,
		flagCredit:     &a.Credit,
		flagAnnuity:    &a.Annuity,
		flagGoodsPrice: &a.GoodsPrice,
		flagExtSource1: &a.ExtSource1,
		flagExtSource2: &a.ExtSource2,
		flagExtSource3: &a.ExtSource3,
	}
	for name, p := range floats {
		if cmd.IsSet(name) {
			*p = cmd.Float(name)
		}
	}

	bools := map[string]*bool{
		flagOwnCar:    &a.OwnCar,
		flagOwnRealty: &a.OwnRealty,
	}
	for name, p := range bools {
		if cmd.IsSet(name) {
			*p = cmd.Bool(name)
		}
	}
}
