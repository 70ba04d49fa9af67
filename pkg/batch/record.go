// Package batch reads many reconcile requests from one input and runs each
// of them in its own transaction.
package batch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"

	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/users"
)

// Record is one requested account state
type Record struct {
	Username            string   `yaml:"username" json:"username" validate:"required,max=150"`
	Email               string   `yaml:"email" json:"email" validate:"required,email"`
	Remove              bool     `yaml:"remove" json:"remove"`
	Staff               bool     `yaml:"staff" json:"staff"`
	Superuser           bool     `yaml:"superuser" json:"superuser"`
	Groups              []string `yaml:"groups" json:"groups" validate:"dive,required"`
	UnusablePassword    bool     `yaml:"unusable_password" json:"unusable_password"`
	InitialPasswordHash *string  `yaml:"initial_password_hash" json:"initial_password_hash"`
}

// Identity returns the account the record addresses
func (r Record) Identity() users.Identity {
	return users.Identity{Username: r.Username, Email: r.Email}
}

// Desired converts the record into the reconciler's desired state
func (r Record) Desired() users.DesiredState {
	d := users.DesiredState{
		Remove:           r.Remove,
		IsStaff:          r.Staff,
		IsSuperuser:      r.Superuser,
		GroupNames:       r.Groups,
		UnusablePassword: r.UnusablePassword,
	}
	if r.InitialPasswordHash != nil {
		d.InitialPasswordHash = *r.InitialPasswordHash
		d.InitialPasswordHashSet = true
	}
	return d
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the record's required and well-formed fields
func (r Record) Validate() error {
	err := structValidator().Struct(r)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewValidationError(err.Error())
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.NewValidationError("invalid record: "+strings.Join(problems, ", ")).
		WithDetail("username", r.Username)
}

// RecordFlags holds the per-record options shared by the command line and
// the line-oriented batch format.
type RecordFlags struct {
	Remove              bool
	Staff               bool
	Superuser           bool
	Group               []string
	Groups              []string
	UnusablePassword    bool
	InitialPasswordHash string
}

// AddFlags registers the record options on flagSet
func (f *RecordFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&f.Remove, "remove", false, "remove the account instead of creating or updating it")
	flagSet.BoolVar(&f.Staff, "staff", false, "grant the staff flag (revoked when omitted)")
	flagSet.BoolVar(&f.Superuser, "superuser", false, "grant the superuser flag (revoked when omitted)")
	flagSet.StringArrayVarP(&f.Group, "group", "g", nil, "group membership, repeatable")
	flagSet.StringSliceVar(&f.Groups, "groups", nil, "comma separated group memberships")
	flagSet.BoolVar(&f.UnusablePassword, "unusable-password", false, "make the password unusable")
	flagSet.StringVar(&f.InitialPasswordHash, "initial-password-hash", "", "password hash for a newly created account")
}

// Record builds a record from parsed flags and the USERNAME EMAIL positionals
func (f *RecordFlags) Record(flagSet *pflag.FlagSet, args []string) (Record, error) {
	if len(args) != 2 {
		return Record{}, errors.NewInvalidInputError(
			fmt.Sprintf("expected USERNAME EMAIL, got %d positional arguments", len(args)))
	}

	rec := Record{
		Username:         args[0],
		Email:            args[1],
		Remove:           f.Remove,
		Staff:            f.Staff,
		Superuser:        f.Superuser,
		UnusablePassword: f.UnusablePassword,
	}
	rec.Groups = append(rec.Groups, f.Group...)
	rec.Groups = append(rec.Groups, f.Groups...)
	if flagSet.Changed("initial-password-hash") {
		hash := f.InitialPasswordHash
		rec.InitialPasswordHash = &hash
	}
	return rec, nil
}
