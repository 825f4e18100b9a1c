package storage

import "codeberg.org/mutker/docsismon/internal/errors"

const (
	ErrInvalidDBPath = errors.ErrorCode("storage_invalid_db_path")

	ErrSchemaInitFailed       = errors.ErrorCode("storage_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("storage_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("storage_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("storage_transaction_failed")
	ErrQueryFailed            = errors.ErrorCode("storage_query_failed")
	ErrInvalidSnapshot        = errors.ErrorCode("storage_invalid_snapshot")

	ErrStorageInit  = errors.ErrInitStorage
	ErrStorageWrite = errors.ErrWriteStorage
	ErrStorageClose = errors.ErrCloseStorage

	ErrOperationTimeout = errors.ErrTimeout
)
