package runstore

const (
	// Label constants for run identification and filtering
	baseAppLabelKey    = "app"
	baseAppLabelValue  = "dash-status-run"
	runTriggerLabelKey = "dash-status/trigger"
	runStatusLabelKey  = "dash-status/status"

	runConfigMapNameFormat = "dash-status-run-%s"
	runConfigMapDataKey    = "run.json"

	resourceGroup = "dash-status"
	resourceName  = "runs"
)
