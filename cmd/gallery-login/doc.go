// Command gallery-login signs the gallery agent in and out of the backend.
//
// Usage:
//
//	gallery-login <command>
//
// Commands:
//
//	login [email]  Prompt for the password (not echoed) and sign in. The
//	               session cookies are saved to DATA_DIR/session.json with
//	               0600 permissions, where gallery-agent restores them.
//
//	logout         End the backend session, forget the saved cookies and
//	               delete both local caches. Refused while gallery-agent
//	               holds the DATA_DIR lock; a running agent should use
//	               POST /api/logout.
//
//	status         Report whether the saved session is still accepted.
//
// Environment:
//
//	BACKEND_URL - Gallery backend (default: http://localhost:8000)
//	DATA_DIR    - Session and cache directory (default: ./data)
package main
