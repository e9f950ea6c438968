package domain

import "time"

type InstallStatus string

const (
	InstallStatusPending        InstallStatus = "pending"
	InstallStatusInstalling     InstallStatus = "installing"
	InstallStatusConnected      InstallStatus = "connected"
	InstallStatusOnline         InstallStatus = "online"
	InstallStatusOffline        InstallStatus = "offline"
	InstallStatusError          InstallStatus = "error"
	InstallStatusAdminInstalled InstallStatus = "ADMIN_INSTALLED"
)

func (s InstallStatus) Valid() bool {
	switch s {
	case InstallStatusPending, InstallStatusInstalling, InstallStatusConnected,
		InstallStatusOnline, InstallStatusOffline, InstallStatusError, InstallStatusAdminInstalled:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationMismatch VerificationStatus = "MISMATCH"
)

type DeviceStatus struct {
	Status          InstallStatus     `json:"status"`
	LastSeen        *time.Time        `json:"lastSeen,omitempty"`
	InstallProgress int               `json:"installProgress"`
	Technical       Technical         `json:"technical"`
	Steps           Steps             `json:"steps"`
	Verification    *Verification     `json:"verification,omitempty"`
	Features        map[string]bool   `json:"features,omitempty"`
	LastDelivered   *DeliveredCommand `json:"lastDelivered,omitempty"`
}

// EffectiveStatus reports offline for a device that was online but has
// not checked in within offlineAfter.
func (d DeviceStatus) EffectiveStatus(now time.Time, offlineAfter time.Duration) InstallStatus {
	if d.Status != InstallStatusOnline && d.Status != InstallStatusAdminInstalled {
		return d.Status
	}
	if d.LastSeen == nil || now.Sub(*d.LastSeen) > offlineAfter {
		return InstallStatusOffline
	}
	return d.Status
}

// AdvanceProgress never moves install progress backwards.
func (d *DeviceStatus) AdvanceProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > d.InstallProgress {
		d.InstallProgress = p
	}
}

// Technical facts are written only by the enrollment callback.
type Technical struct {
	Brand        string    `json:"brand,omitempty"`
	Model        string    `json:"model,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	OSVersion    string    `json:"osVersion,omitempty"`
	SDKInt       int       `json:"sdkInt,omitempty"`
	AndroidID    string    `json:"androidId,omitempty"`
	Serial       string    `json:"serial,omitempty"`
	ReportedAt   time.Time `json:"reportedAt"`
}

// Merge applies an incoming report. A strictly newer report overwrites the
// fields it carries; an older or same-instant report only fills fields that
// are still empty. Either way empty incoming fields never erase data.
func (t *Technical) Merge(in Technical) {
	newer := in.ReportedAt.After(t.ReportedAt)

	pick := func(cur *string, v string) {
		if v == "" {
			return
		}
		if newer || *cur == "" {
			*cur = v
		}
	}
	pick(&t.Brand, in.Brand)
	pick(&t.Model, in.Model)
	pick(&t.Manufacturer, in.Manufacturer)
	pick(&t.OSVersion, in.OSVersion)
	pick(&t.AndroidID, in.AndroidID)
	pick(&t.Serial, in.Serial)
	if in.SDKInt != 0 && (newer || t.SDKInt == 0) {
		t.SDKInt = in.SDKInt
	}
	if newer {
		t.ReportedAt = in.ReportedAt
	}
}

type Step string

const (
	StepQRScanned          Step = "qrScanned"
	StepAppInstalled       Step = "appInstalled"
	StepAppLaunched        Step = "appLaunched"
	StepPermissionsGranted Step = "permissionsGranted"
	StepDetailsFetched     Step = "detailsFetched"
	StepIMEIVerified       Step = "imeiVerified"
	StepDeviceBound        Step = "deviceBound"
)

// StepOrder is the checklist order shown on the dashboard.
var StepOrder = []Step{
	StepQRScanned,
	StepAppInstalled,
	StepAppLaunched,
	StepPermissionsGranted,
	StepDetailsFetched,
	StepIMEIVerified,
	StepDeviceBound,
}

type Steps struct {
	QRScanned          bool `json:"qrScanned"`
	AppInstalled       bool `json:"appInstalled"`
	AppLaunched        bool `json:"appLaunched"`
	PermissionsGranted bool `json:"permissionsGranted"`
	DetailsFetched     bool `json:"detailsFetched"`
	IMEIVerified       bool `json:"imeiVerified"`
	DeviceBound        bool `json:"deviceBound"`
}

// Merge is set-true-only: a step that has landed is never reset.
func (s *Steps) Merge(in Steps) {
	s.QRScanned = s.QRScanned || in.QRScanned
	s.AppInstalled = s.AppInstalled || in.AppInstalled
	s.AppLaunched = s.AppLaunched || in.AppLaunched
	s.PermissionsGranted = s.PermissionsGranted || in.PermissionsGranted
	s.DetailsFetched = s.DetailsFetched || in.DetailsFetched
	s.IMEIVerified = s.IMEIVerified || in.IMEIVerified
	s.DeviceBound = s.DeviceBound || in.DeviceBound
}

// Mark sets a single named step. Unknown names report false.
func (s *Steps) Mark(step Step) bool {
	switch step {
	case StepQRScanned:
		s.QRScanned = true
	case StepAppInstalled:
		s.AppInstalled = true
	case StepAppLaunched:
		s.AppLaunched = true
	case StepPermissionsGranted:
		s.PermissionsGranted = true
	case StepDetailsFetched:
		s.DetailsFetched = true
	case StepIMEIVerified:
		s.IMEIVerified = true
	case StepDeviceBound:
		s.DeviceBound = true
	default:
		return false
	}
	return true
}

// Progress is the share of completed checklist steps, 0-100.
func (s Steps) Progress() int {
	done := 0
	for _, v := range []bool{s.QRScanned, s.AppInstalled, s.AppLaunched,
		s.PermissionsGranted, s.DetailsFetched, s.IMEIVerified, s.DeviceBound} {
		if v {
			done++
		}
	}
	return done * 100 / len(StepOrder)
}

type Verification struct {
	Status       VerificationStatus `json:"status"`
	ExpectedIMEI string             `json:"expectedImei,omitempty"`
	ActualIMEI   string             `json:"actualImei,omitempty"`
	SimSerial    string             `json:"simSerial,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	CheckedAt    time.Time          `json:"checkedAt"`
}

type DeliveredCommand struct {
	Command     CommandType `json:"command"`
	IssuedAt    time.Time   `json:"issuedAt"`
	DeliveredAt time.Time   `json:"deliveredAt"`
}
