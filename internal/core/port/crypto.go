package port

// PasswordPolicyValidator enforces password strength requirements at
// change/reset time. Stored hashes that predate the policy still verify.
type PasswordPolicyValidator interface {
	Validate(password string) error
}
