// Package logging provides a chainable structured-logging field
// builder shared by every component, plus named constructors for the
// field groups used most often in this codebase (database, HTTP,
// pipeline, AI/vision, tenant, metrics, security, performance).
package logging

import "time"

// Fields is a chainable map of structured-logging key/value pairs.
// Every method returns Fields so calls compose:
//
//	logging.NewFields().Component("ingestion").Operation("process").Count(3)
type Fields map[string]interface{}

func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// Tenant tags the fields with the owning tenant, the identifier every
// query and log line in this codebase must carry (spec §5 tenant
// partitioning).
func (f Fields) Tenant(tenant string) Fields {
	if tenant != "" {
		f["tenant"] = tenant
	}
	return f
}

// TaskID tags the fields with a background task id (C7 Task
// Registry).
func (f Fields) TaskID(id string) Fields {
	if id != "" {
		f["task_id"] = id
	}
	return f
}

// RowID tags the fields with a staging/review/verified row id.
func (f Fields) RowID(id string) Fields {
	if id != "" {
		f["row_id"] = id
	}
	return f
}

// PartNumber tags the fields with a stock part number.
func (f Fields) PartNumber(partNumber string) Fields {
	if partNumber != "" {
		f["part_number"] = partNumber
	}
	return f
}

// ToLogrus returns the fields as a plain map, the shape logrus.Fields
// (and any other map[string]interface{}-based logger) accepts
// directly.
func (f Fields) ToLogrus() map[string]interface{} {
	return map[string]interface{}(f)
}

// DatabaseFields builds the standard field set for a database
// operation against a table.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields builds the standard field set for an HTTP request/response.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// PipelineFields builds the standard field set for an ingestion/
// verification/stock pipeline operation against a named stage.
func PipelineFields(operation, stage string) Fields {
	return NewFields().Component("pipeline").Operation(operation).Resource("stage", stage)
}

// TenantFields builds the standard field set for a tenant-scoped
// operation, the join point almost every log line in this codebase
// passes through.
func TenantFields(operation, tenant string) Fields {
	return NewFields().Component("tenant").Operation(operation).Tenant(tenant)
}

// AIFields builds the standard field set for a vision-extraction call.
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields builds the standard field set for a recorded metric.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields builds the standard field set for an auth-related
// event against a subject (user, token, tenant).
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields builds the standard field set for a timed
// operation outcome.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}
