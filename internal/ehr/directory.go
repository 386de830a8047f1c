// Package ehr provides the patient directory backed by Postgres. A patient
// record is fixed shape: it is either fully present or absent, never partial.
package ehr

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aura-dx/aura/internal/diagnosis"
)

// Directory implements diagnosis.PatientDirectory over database/sql.
type Directory struct {
	DB *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{DB: db}
}

// GetPatient returns the record for id, or diagnosis.ErrPatientNotFound.
func (d *Directory) GetPatient(ctx context.Context, id int) (diagnosis.PatientRecord, error) {
	var p diagnosis.PatientRecord
	var symptoms sql.NullString
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, name, age, gender, medical_history, current_symptoms, created_at, updated_at
		FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.MedicalHistory, &symptoms, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return diagnosis.PatientRecord{}, diagnosis.ErrPatientNotFound
	}
	if err != nil {
		return diagnosis.PatientRecord{}, err
	}
	p.CurrentSymptoms = symptoms.String
	return p, nil
}

// ListPatients returns all patients ordered by id.
func (d *Directory) ListPatients(ctx context.Context) ([]diagnosis.PatientRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, age, gender, medical_history, current_symptoms, created_at, updated_at
		FROM patients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []diagnosis.PatientRecord
	for rows.Next() {
		var p diagnosis.PatientRecord
		var symptoms sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.MedicalHistory, &symptoms, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CurrentSymptoms = symptoms.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePatient inserts a patient and returns its id. Used by the seed
// command.
func (d *Directory) CreatePatient(ctx context.Context, p diagnosis.PatientRecord) (int, error) {
	var id int
	err := d.DB.QueryRowContext(ctx, `
		INSERT INTO patients (name, age, gender, medical_history, current_symptoms)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		p.Name, p.Age, p.Gender, p.MedicalHistory, nullable(p.CurrentSymptoms)).Scan(&id)
	return id, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
