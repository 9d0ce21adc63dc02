package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v84"
)

// Diagnostics is what the logs need to debug a failed request or job: the
// wrap chain plus whatever the database driver or Stripe attached to the root cause.
type Diagnostics struct {
	Message string
	Code    Code
	Reason  Reason
	Chain   []string

	Database  *DatabaseDetail
	Processor *ProcessorDetail
}

type DatabaseDetail struct {
	SQLState   string
	Constraint string
	Table      string
	Detail     string
}

type ProcessorDetail struct {
	Type        string
	Code        string
	DeclineCode string
	RequestID   string
	HTTPStatus  int
}

// Diagnose walks err. A nil error yields the zero value.
func Diagnose(err error) Diagnostics {
	var d Diagnostics
	if err == nil {
		return d
	}
	d.Message = err.Error()
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
		d.Reason = typed.Reason()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.Database = databaseDetail(err)
	d.Processor = processorDetail(err)
	return d
}

func databaseDetail(err error) *DatabaseDetail {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &DatabaseDetail{
			SQLState:   pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Table:      pgErr.TableName,
			Detail:     pgErr.Detail,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DatabaseDetail{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Detail:     pqErr.Detail,
		}
	}
	return nil
}

func processorDetail(err error) *ProcessorDetail {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return nil
	}
	return &ProcessorDetail{
		Type:        string(stripeErr.Type),
		Code:        string(stripeErr.Code),
		DeclineCode: string(stripeErr.DeclineCode),
		RequestID:   stripeErr.RequestID,
		HTTPStatus:  stripeErr.HTTPStatusCode,
	}
}

// LogFields flattens the diagnostics into structured log fields, leaving out empty ones.
func (d Diagnostics) LogFields() map[string]any {
	fields := map[string]any{}
	put := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	put("error", d.Message)
	put("error_code", string(d.Code))
	put("error_reason", string(d.Reason))
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if db := d.Database; db != nil {
		put("pg_code", db.SQLState)
		put("pg_constraint", db.Constraint)
		put("pg_table", db.Table)
		put("pg_detail", db.Detail)
	}
	if p := d.Processor; p != nil {
		put("processor_type", p.Type)
		put("processor_code", p.Code)
		put("processor_decline_code", p.DeclineCode)
		put("processor_request_id", p.RequestID)
		if p.HTTPStatus != 0 {
			fields["processor_status"] = p.HTTPStatus
		}
	}
	return fields
}
