package domain

// ProvisioningPayload is the Device Owner provisioning JSON encoded into the
// setup QR code. Field order is fixed so equal inputs encode identically.
type ProvisioningPayload struct {
	ComponentName    string      `json:"android.app.extra.PROVISIONING_DEVICE_ADMIN_COMPONENT_NAME"`
	DownloadLocation string      `json:"android.app.extra.PROVISIONING_DEVICE_ADMIN_PACKAGE_DOWNLOAD_LOCATION"`
	PackageChecksum  string      `json:"android.app.extra.PROVISIONING_DEVICE_ADMIN_PACKAGE_CHECKSUM"`
	SkipEncryption   bool        `json:"android.app.extra.PROVISIONING_SKIP_ENCRYPTION"`
	LeaveSystemApps  bool        `json:"android.app.extra.PROVISIONING_LEAVE_ALL_SYSTEM_APPS_ENABLED"`
	AdminExtras      AdminExtras `json:"android.app.extra.PROVISIONING_ADMIN_EXTRAS_BUNDLE"`
}

type AdminExtras struct {
	CustomerID string `json:"customerId"`
	ServerURL  string `json:"serverUrl"`
}
