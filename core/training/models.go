package training

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
)

type Training struct {
	ID          int         `db:"id" json:"id"`
	Title       string      `db:"title" json:"title"`
	Description null.String `db:"description" json:"description"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
	Modules     []Module    `db:"-" json:"modules,omitempty"`
}

type Module struct {
	ID         int         `db:"id" json:"id"`
	TrainingID int         `db:"training_id" json:"trainingId"`
	Title      string      `db:"title" json:"title"`
	Position   int         `db:"position" json:"position"`
	Submodules []Submodule `db:"-" json:"submodules,omitempty"`
}

type Submodule struct {
	ID       int      `db:"id" json:"id"`
	ModuleID int      `db:"module_id" json:"moduleId"`
	Title    string   `db:"title" json:"title"`
	Position int      `db:"position" json:"position"`
	Lessons  []Lesson `db:"-" json:"lessons,omitempty"`
}

type Lesson struct {
	ID          int         `db:"id" json:"id"`
	SubmoduleID int         `db:"submodule_id" json:"submoduleId"`
	Title       string      `db:"title" json:"title"`
	Content     null.String `db:"content" json:"content"`
	VideoURL    null.String `db:"video_url" json:"videoUrl"`
	FileKey     null.String `db:"file_key" json:"-"`
	FileURL     null.String `db:"-" json:"fileUrl"` // signed URL, resolved by the API
	Position    int         `db:"position" json:"position"`
}

// NewTraining contains information needed to create (or replace the details of) a Training.
type NewTraining struct {
	Title       string `json:"title" validate:"notblank,max=255"`
	Description string `json:"description"`
}

func (nt *NewTraining) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	return validate.Struct(nt)
}

type NewModule struct {
	TrainingID int    `json:"trainingId" validate:"required,gt=0"`
	Title      string `json:"title" validate:"notblank,max=255"`
	Position   int    `json:"position" validate:"gte=0"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	return validate.Struct(nm)
}

type NewSubmodule struct {
	ModuleID int    `json:"moduleId" validate:"required,gt=0"`
	Title    string `json:"title" validate:"notblank,max=255"`
	Position int    `json:"position" validate:"gte=0"`
}

func (ns *NewSubmodule) Validate(validate *validator.Validate) error {
	ns.Title = core.CleanString(ns.Title)
	return validate.Struct(ns)
}

// UpdateSection replaces the title & position of a module or a submodule.
type UpdateSection struct {
	Title    string `json:"title" validate:"notblank,max=255"`
	Position int    `json:"position" validate:"gte=0"`
}

func (us *UpdateSection) Validate(validate *validator.Validate) error {
	us.Title = core.CleanString(us.Title)
	return validate.Struct(us)
}

type NewLesson struct {
	SubmoduleID int    `json:"submoduleId" validate:"required,gt=0"`
	Title       string `json:"title" validate:"notblank,max=255"`
	Content     string `json:"content"`
	VideoURL    string `json:"videoUrl" validate:"omitempty,url,max=512"`
	Position    int    `json:"position" validate:"gte=0"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.Content = core.CleanString(nl.Content)
	nl.VideoURL = core.CleanString(nl.VideoURL)
	return validate.Struct(nl)
}

type UpdateLesson struct {
	Title    string `json:"title" validate:"notblank,max=255"`
	Content  string `json:"content"`
	VideoURL string `json:"videoUrl" validate:"omitempty,url,max=512"`
	Position int    `json:"position" validate:"gte=0"`
}

func (ul *UpdateLesson) Validate(validate *validator.Validate) error {
	ul.Title = core.CleanString(ul.Title)
	ul.Content = core.CleanString(ul.Content)
	ul.VideoURL = core.CleanString(ul.VideoURL)
	return validate.Struct(ul)
}
