package contract

// Environment variable names read by the worker. Every key is always
// present in a launch contract; an empty value means unset.
const (
	KeyAPIKey         = "API_KEY"
	KeyMode           = "MODE"
	KeyOutputFilePath = "OUTPUT_FILE_PATH"

	KeyProjectID              = "PROJECT_ID"
	KeyProjectName            = "PROJECT_NAME"
	KeyCreateProjectIfMissing = "CREATE_PROJECT_IF_MISSING"
	KeyOrganizationID         = "ORGANIZATION_ID"
	KeyOrganizationName       = "ORGANIZATION_NAME"
	KeyRegionID               = "REGION_ID"
	KeyPostgresVersion        = "POSTGRES_VERSION"

	KeyBranchID              = "BRANCH_ID"
	KeyBranchName            = "BRANCH_NAME"
	KeyParentBranchID        = "PARENT_BRANCH_ID"
	KeyParentBranchName      = "PARENT_BRANCH_NAME"
	KeyBranchProtected       = "BRANCH_PROTECTED"
	KeyBranchInitSource      = "BRANCH_INIT_SOURCE"
	KeyBranchExpiresAt       = "BRANCH_EXPIRES_AT"
	KeyBranchParentLSN       = "BRANCH_PARENT_LSN"
	KeyBranchParentTimestamp = "BRANCH_PARENT_TIMESTAMP"
	KeyBranchArchived        = "BRANCH_ARCHIVED"
	KeyCreateBranchIfMissing = "CREATE_BRANCH_IF_MISSING"
	KeyBranchSetAsDefault    = "BRANCH_SET_AS_DEFAULT"
	KeyUseEphemeralBranch    = "USE_EPHEMERAL_BRANCH"
	KeyEphemeralBranchPrefix = "EPHEMERAL_BRANCH_PREFIX"

	KeyRestoreEnabled           = "BRANCH_RESTORE_ENABLED"
	KeyRestoreSourceBranchID    = "BRANCH_RESTORE_SOURCE_BRANCH_ID"
	KeyRestoreSourceLSN         = "BRANCH_RESTORE_SOURCE_LSN"
	KeyRestoreSourceTimestamp   = "BRANCH_RESTORE_SOURCE_TIMESTAMP"
	KeyRestorePreserveUnderName = "BRANCH_RESTORE_PRESERVE_UNDER_NAME"

	KeyAnonymizationEnabled = "BRANCH_ANONYMIZATION_ENABLED"
	KeyAnonymizationStart   = "BRANCH_ANONYMIZATION_START"
	KeyMaskingRulesJSON     = "BRANCH_MASKING_RULES_JSON"

	KeyEndpointID              = "ENDPOINT_ID"
	KeyEndpointType            = "ENDPOINT_TYPE"
	KeyCreateEndpointIfMissing = "CREATE_ENDPOINT_IF_MISSING"

	KeyDatabaseName        = "DATABASE_NAME"
	KeyRoleName            = "ROLE_NAME"
	KeyUseConnectionPooler = "USE_CONNECTION_POOLER"
	KeyDatabaseSpecsJSON   = "DATABASE_SPECS_JSON"
)

// LaunchKeys lists every key of the launch contract.
var LaunchKeys = []string{
	KeyAPIKey, KeyMode, KeyOutputFilePath,
	KeyProjectID, KeyProjectName, KeyCreateProjectIfMissing,
	KeyOrganizationID, KeyOrganizationName, KeyRegionID, KeyPostgresVersion,
	KeyBranchID, KeyBranchName, KeyParentBranchID, KeyParentBranchName,
	KeyBranchProtected, KeyBranchInitSource, KeyBranchExpiresAt,
	KeyBranchParentLSN, KeyBranchParentTimestamp, KeyBranchArchived,
	KeyCreateBranchIfMissing, KeyBranchSetAsDefault,
	KeyUseEphemeralBranch, KeyEphemeralBranchPrefix,
	KeyRestoreEnabled, KeyRestoreSourceBranchID, KeyRestoreSourceLSN,
	KeyRestoreSourceTimestamp, KeyRestorePreserveUnderName,
	KeyAnonymizationEnabled, KeyAnonymizationStart, KeyMaskingRulesJSON,
	KeyEndpointID, KeyEndpointType, KeyCreateEndpointIfMissing,
	KeyDatabaseName, KeyRoleName, KeyUseConnectionPooler, KeyDatabaseSpecsJSON,
}

// CommandKeys lists the keys of the reduced one-shot command contract.
var CommandKeys = []string{KeyAPIKey, KeyMode, KeyProjectID, KeyEndpointID}
