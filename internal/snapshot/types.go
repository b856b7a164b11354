package snapshot

// FileTypes are the tracked component types with retrievable body content.
// Every collection run enumerates and downloads all of them.
var FileTypes = []string{
	"ApexClass", "ApexTrigger", "Flow", "CustomObject",
	"Layout", "PermissionSet", "Profile", "Workflow", "EmailTemplate",
	"FlexiPage", "AuraDefinitionBundle", "LightningComponentBundle", "CustomLabel",
	"StaticResource", "CustomMetadata", "GlobalValueSet", "ApexComponent", "ApexPage",
}

// ChildTypes are sub-records with no standalone file body. They are listed
// but never retrieved.
var ChildTypes = []string{
	"CustomField", "ValidationRule", "WebLink", "ListView", "FieldSet", "RecordType",
}

// folderTypes maps folder-organized component types to the type used to
// enumerate their folders.
var folderTypes = map[string]string{
	"EmailTemplate": "EmailFolder",
	"Report":        "ReportFolder",
	"Dashboard":     "DashboardFolder",
	"Document":      "DocumentFolder",
}
