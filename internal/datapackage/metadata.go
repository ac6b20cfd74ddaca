// Package datapackage encodes a graph dataset as a zipped tabular data
// package and decodes such archives back into typed tables.
//
// An archive has exactly three members: nodes.csv, edges.csv and
// datapackage.json. The JSON metadata declares each CSV member as a resource
// with its path, mediatype and ordered schema.
package datapackage

import (
	"dardanelles/internal/apperr"
	"dardanelles/internal/tabular"
)

const (
	MetadataFile = "datapackage.json"
	NodesFile    = "nodes.csv"
	EdgesFile    = "edges.csv"

	PackageProfile  = "tabular-data-package"
	ResourceProfile = "tabular-data-resource"
	CSVMediatype    = "text/csv"
)

var (
	ErrDatasetNotFound      = apperr.New(apperr.KindInputValidation, "dataset_not_found", "dataset can't be found")
	ErrDatasetEmpty         = apperr.New(apperr.KindInputValidation, "dataset_empty", "dataset is empty")
	ErrInvalidName          = apperr.New(apperr.KindInputValidation, "invalid_name", "invalid datapackage name")
	ErrNotFound             = apperr.New(apperr.KindNotFound, "archive_not_found", "archive file does not exist")
	ErrMissingResource      = apperr.New(apperr.KindStructuralFormat, "missing_resource", "datapackage resource is missing")
	ErrUnsupportedMediatype = apperr.New(apperr.KindStructuralFormat, "unsupported_mediatype", "unsupported resource mediatype")
	ErrInvalidMetadata      = apperr.New(apperr.KindStructuralFormat, "invalid_metadata", "invalid datapackage.json")
	ErrTooLarge             = apperr.New(apperr.KindStructuralFormat, "inflated_too_large", "archive member inflates past the size limit")
)

// License is one entry of the package license list.
type License struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// DefaultLicenses is used when an export names none.
var DefaultLicenses = []License{{
	ID:    "ODC-PDDL-1.0",
	Path:  "http://opendatacommons.org/licenses/pddl/",
	Title: "Open Data Commons Public Domain Dedication and License v1.0",
}}

// Contributor credits a person for the package.
type Contributor struct {
	Title string `json:"title"`
	Role  string `json:"role"`
}

// Resource describes one tabular member of the archive.
type Resource struct {
	Path      string         `json:"path"`
	Profile   string         `json:"profile"`
	Mediatype string         `json:"mediatype"`
	Schema    tabular.Schema `json:"schema"`
}

// Metadata is the content of datapackage.json.
type Metadata struct {
	Profile      string        `json:"profile"`
	Name         string        `json:"name"`
	Database     string        `json:"database"`
	Description  string        `json:"description"`
	ID           string        `json:"id"`
	Licenses     []License     `json:"licenses"`
	Resources    []Resource    `json:"resources"`
	Depends      []string      `json:"depends"`
	Created      string        `json:"created"`
	Version      string        `json:"version,omitempty"`
	Contributors []Contributor `json:"contributors,omitempty"`
}

// Package is a decoded (or about to be encoded) datapackage.
type Package struct {
	Metadata Metadata
	Nodes    *tabular.Table
	Edges    *tabular.Table
}

func (p *Package) Depends() []string   { return p.Metadata.Depends }
func (p *Package) Database() string    { return p.Metadata.Database }
func (p *Package) Name() string        { return p.Metadata.Name }
func (p *Package) Description() string { return p.Metadata.Description }
