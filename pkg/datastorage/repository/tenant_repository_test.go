package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

var _ = Describe("TenantRepository", func() {
	var (
		repo   *TenantRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).ToNot(HaveOccurred())

		repo = NewTenantRepository(mockDB, zap.NewNop())
		ctx = context.Background()
	})

	Describe("Get", func() {
		It("returns the tenant row", func() {
			rows := sqlmock.NewRows([]string{"username", "industry_kind", "object_store_bucket", "extraction_prompt", "column_map", "external_sheet_id"}).
				AddRow("acme", models.IndustryAutoParts, "acme-bucket", "extract auto parts", []byte(`{}`), nil)
			mock.ExpectQuery(`SELECT username, industry_kind, object_store_bucket, extraction_prompt, column_map, external_sheet_id`).
				WithArgs("acme").
				WillReturnRows(rows)

			tenant, err := repo.Get(ctx, "acme")

			Expect(err).ToNot(HaveOccurred())
			Expect(tenant.ObjectStoreBucket).To(Equal("acme-bucket"))
			Expect(tenant.IndustryKind).To(Equal(models.IndustryAutoParts))
		})

		It("returns a not-found problem when no row matches", func() {
			mock.ExpectQuery(`SELECT username, industry_kind, object_store_bucket, extraction_prompt, column_map, external_sheet_id`).
				WithArgs("ghost").
				WillReturnError(sql.ErrNoRows)

			_, err := repo.Get(ctx, "ghost")

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Bucket", func() {
		It("returns just the object-store bucket", func() {
			rows := sqlmock.NewRows([]string{"username", "industry_kind", "object_store_bucket", "extraction_prompt", "column_map", "external_sheet_id"}).
				AddRow("acme", models.IndustryAutoParts, "acme-bucket", "", []byte(`{}`), nil)
			mock.ExpectQuery(`SELECT username, industry_kind, object_store_bucket, extraction_prompt, column_map, external_sheet_id`).
				WithArgs("acme").
				WillReturnRows(rows)

			bucket, err := repo.Bucket(ctx, "acme")

			Expect(err).ToNot(HaveOccurred())
			Expect(bucket).To(Equal("acme-bucket"))
		})
	})
})
