package encounter

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldchart/fieldchart/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const encCols = `id, patient_id, provider_id, clinic_id, encounter_type, encounter_date, status,
	chief_complaint, hpi, ros, physical_exam, narrative, assessment, plan, disposition,
	vitals, icd_codes, cpt_codes, clinical_data,
	locked_at, locked_by, is_amended, amendment_reason, amended_at, amended_by,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (
			id, patient_id, provider_id, clinic_id, encounter_type, encounter_date, status,
			chief_complaint, hpi, ros, physical_exam, narrative, assessment, plan, disposition,
			vitals, icd_codes, cpt_codes, clinical_data,
			locked_at, locked_by, is_amended, amendment_reason, amended_at, amended_by
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,$13,$14,$15,
			$16,$17,$18,$19,
			$20,$21,$22,$23,$24,$25
		)`,
		enc.ID, enc.PatientID, enc.ProviderID, enc.ClinicID, enc.EncounterType, enc.EncounterDate, enc.Status,
		enc.ChiefComplaint, enc.HPI, enc.ROS, enc.PhysicalExam, enc.Narrative, enc.Assessment, enc.Plan, enc.Disposition,
		enc.Vitals, enc.ICDCodes, enc.CPTCodes, enc.ClinicalData,
		enc.LockedAt, enc.LockedBy, enc.IsAmended, enc.AmendmentReason, enc.AmendedAt, enc.AmendedBy,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			patient_id=$2, provider_id=$3, clinic_id=$4, encounter_type=$5, encounter_date=$6, status=$7,
			chief_complaint=$8, hpi=$9, ros=$10, physical_exam=$11, narrative=$12,
			assessment=$13, plan=$14, disposition=$15,
			vitals=$16, icd_codes=$17, cpt_codes=$18, clinical_data=$19,
			locked_at=$20, locked_by=$21, is_amended=$22, amendment_reason=$23, amended_at=$24, amended_by=$25,
			updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.PatientID, enc.ProviderID, enc.ClinicID, enc.EncounterType, enc.EncounterDate, enc.Status,
		enc.ChiefComplaint, enc.HPI, enc.ROS, enc.PhysicalExam, enc.Narrative,
		enc.Assessment, enc.Plan, enc.Disposition,
		enc.Vitals, enc.ICDCodes, enc.CPTCodes, enc.ClinicalData,
		enc.LockedAt, enc.LockedBy, enc.IsAmended, enc.AmendmentReason, enc.AmendedAt, enc.AmendedBy,
	)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter ORDER BY encounter_date DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE provider_id = $1`, providerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE provider_id = $1 ORDER BY encounter_date DESC LIMIT $2 OFFSET $3`,
		providerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) AddStatusHistory(ctx context.Context, sh *StatusHistory) error {
	sh.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter_status_history (id, encounter_id, status, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5)`,
		sh.ID, sh.EncounterID, sh.Status, sh.ChangedBy, sh.ChangedAt,
	)
	return err
}

func (r *repoPG) GetStatusHistory(ctx context.Context, encounterID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, encounter_id, status, changed_by, changed_at
		FROM encounter_status_history WHERE encounter_id = $1 ORDER BY changed_at`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var sh StatusHistory
		if err := rows.Scan(&sh.ID, &sh.EncounterID, &sh.Status, &sh.ChangedBy, &sh.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, &sh)
	}
	return history, nil
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.PatientID, &e.ProviderID, &e.ClinicID, &e.EncounterType, &e.EncounterDate, &e.Status,
		&e.ChiefComplaint, &e.HPI, &e.ROS, &e.PhysicalExam, &e.Narrative, &e.Assessment, &e.Plan, &e.Disposition,
		&e.Vitals, &e.ICDCodes, &e.CPTCodes, &e.ClinicalData,
		&e.LockedAt, &e.LockedBy, &e.IsAmended, &e.AmendmentReason, &e.AmendedAt, &e.AmendedBy,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encs []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		encs = append(encs, e)
	}
	return encs, total, nil
}
