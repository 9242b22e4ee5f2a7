package dto

// MFASetupResponse se entrega una sola vez: ni el secreto ni los backup
// codes vuelven a ser recuperables en claro.
type MFASetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// MFACodeRequest lleva un código TOTP o backup code.
type MFACodeRequest struct {
	Code string `json:"code"`
}

// MFAVerifyRequest es un intento de verificación de segundo factor.
type MFAVerifyRequest struct {
	Code           string `json:"code"`
	RememberDevice bool   `json:"remember_device,omitempty"`
}

// MFAVerifyResponse describe una verificación exitosa.
type MFAVerifyResponse struct {
	Verified       bool `json:"verified"`
	UsedBackupCode bool `json:"used_backup_code"`
	DeviceTrusted  bool `json:"device_trusted"`
}

// MFABackupCodesResponse entrega el set regenerado de backup codes.
type MFABackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}
