package record

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	pointNamespace   = uuid.NewSHA1(uuid.NameSpaceURL, []byte("prodsync:catalog-point"))
	contentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("prodsync:record-content"))
)

// PointID is the catalog primary key for a record. The same (tenant, record)
// pair always maps to the same point, and two tenants never share one.
func PointID(tenantID, recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(tenantID+"\x00"+recordID)).String()
}

// RandomID returns a fresh record id.
func RandomID() string {
	return uuid.NewString()
}

// ContentID derives a record id from the tenant and every field of the row,
// so the same row uploaded twice gets the same id.
func ContentID(tenantID string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tenantID)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return uuid.NewSHA1(contentNamespace, []byte(b.String())).String()
}
