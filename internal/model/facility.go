package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FacilityType identifies a category of public-service facility.
type FacilityType string

const (
	FacilityTypeSchool        FacilityType = "school"
	FacilityTypeHospital      FacilityType = "hospital"
	FacilityTypePolyclinic    FacilityType = "polyclinic"
	FacilityTypeClinic        FacilityType = "clinic"
	FacilityTypeFireStation   FacilityType = "fire_station"
	FacilityTypePoliceStation FacilityType = "police_station"
	FacilityTypePostOffice    FacilityType = "post_office"
)

// FacilityTypes lists every known facility type in display order.
var FacilityTypes = []FacilityType{
	FacilityTypeSchool,
	FacilityTypeHospital,
	FacilityTypePolyclinic,
	FacilityTypeClinic,
	FacilityTypeFireStation,
	FacilityTypePoliceStation,
	FacilityTypePostOffice,
}

// FilterAll is the type filter value that admits every record.
const FilterAll = "all"

var titleCaser = cases.Title(language.English)

// Known reports whether t is one of the FacilityTypes.
func (t FacilityType) Known() bool {
	for _, ft := range FacilityTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// DisplayName returns a human label, e.g. "Fire Station".
func (t FacilityType) DisplayName() string {
	if t == "" {
		return "Facility"
	}
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

// Facility is a public-service facility as delivered by the data source.
// The core never mutates facility records.
type Facility struct {
	ID          ID             `json:"id"`
	Type        FacilityType   `json:"type"`
	Name        string         `json:"name"`
	Address     string         `json:"address,omitempty"`
	Coordinates Coordinates    `json:"coordinates"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Label returns the facility name, falling back to its type and id.
func (f Facility) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Type.DisplayName() + " " + string(f.ID)
}
