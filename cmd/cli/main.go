package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "auth":
		handleAuth(args)
	case "admin":
		handleAdmin(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: clinicops auth <login|refresh|logout|me|verify|passwd>")
		return
	}

	subCmd := args[0]
	switch subCmd {
	case "login":
		loginUser(args[1:])
	case "refresh":
		refreshToken()
	case "logout":
		logoutUser()
	case "me":
		whoAmI()
	case "verify":
		verifyToken()
	case "passwd":
		changePassword(args[1:])
	default:
		fmt.Printf("unknown auth command: %s\n", subCmd)
	}
}

func handleAdmin(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: clinicops admin <clinics|create-clinic|delete-clinic|users|create-user|audit>")
		return
	}

	subCmd := args[0]
	switch subCmd {
	case "clinics":
		listClinics(args[1:])
	case "create-clinic":
		createClinic(args[1:])
	case "delete-clinic":
		deleteClinic(args[1:])
	case "users":
		listUsers(args[1:])
	case "create-user":
		createUser(args[1:])
	case "audit":
		listAuditLog(args[1:])
	default:
		fmt.Printf("unknown admin command: %s\n", subCmd)
	}
}

// Auth commands
func loginUser(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	clinic := fs.String("clinic", "", "clinic name")
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password")

	fs.Parse(args)

	if *clinic == "" || *username == "" || *password == "" {
		fmt.Println("Error: clinic, username, and password are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"clinic_name": *clinic, "username": *username, "password": *password}
	status, result, err := call(http.MethodPost, "/auth/login", "", payload)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ Login failed: %v (%v)\n", result["error"], result["code"])
		return
	}

	access, _ := result["access_token"].(string)
	refresh, _ := result["refresh_token"].(string)
	if err := saveTokens(tokens{Access: access, Refresh: refresh}); err != nil {
		fmt.Printf("Error: could not save tokens: %v\n", err)
		return
	}
	fmt.Printf("✓ Logged in as: %s @ %s\n", *username, *clinic)
}

func refreshToken() {
	t := loadTokens()
	if t.Refresh == "" {
		fmt.Println("Not logged in")
		return
	}
	status, result, err := call(http.MethodPost, "/auth/refresh", t.Refresh, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ Refresh failed: %v (%v)\n", result["error"], result["code"])
		return
	}
	t.Access, _ = result["access_token"].(string)
	if err := saveTokens(t); err != nil {
		fmt.Printf("Error: could not save tokens: %v\n", err)
		return
	}
	fmt.Println("✓ Access token refreshed")
}

func logoutUser() {
	t := loadTokens()
	if t.Access != "" {
		if status, result, err := call(http.MethodPost, "/auth/logout", t.Access, nil); err == nil && status != http.StatusOK {
			fmt.Printf("server logout failed: %v\n", result["error"])
		}
	}
	os.Remove(tokenFile())
	fmt.Println("✓ Logged out")
}

func whoAmI() {
	t := loadTokens()
	if t.Access == "" {
		fmt.Println("Not logged in")
		return
	}
	status, result, err := call(http.MethodGet, "/auth/me", t.Access, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ %v (%v)\n", result["error"], result["code"])
		return
	}
	user, _ := result["user"].(map[string]interface{})
	clinicName := "(platform)"
	if clinic, ok := result["clinic"].(map[string]interface{}); ok {
		clinicName = fmt.Sprint(clinic["name"])
	}
	fmt.Printf("✓ %v [%v] in %s\n", user["username"], user["role"], clinicName)
}

func verifyToken() {
	t := loadTokens()
	if t.Access == "" {
		fmt.Println("Not logged in")
		return
	}
	status, result, err := call(http.MethodPost, "/auth/verify-token", t.Access, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ Token invalid: %v (%v)\n", result["error"], result["code"])
		return
	}
	fmt.Printf("✓ Token valid: user=%v clinic=%v role=%v permissions=%v\n",
		result["user_id"], result["clinic_id"], result["role"], result["permissions"])
}

func changePassword(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	current := fs.String("current", "", "current password")
	next := fs.String("new", "", "new password (min 8 characters)")
	fs.Parse(args)

	status, result, err := call(http.MethodPost, "/auth/change-password", loadTokens().Access, map[string]string{
		"current_password": *current,
		"new_password":     *next,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ Password change failed: %v\n", result["error"])
		return
	}
	fmt.Println("✓ Password changed")
}

// Admin commands
func listClinics(args []string) {
	fs := flag.NewFlagSet("clinics", flag.ExitOnError)
	search := fs.String("search", "", "name contains")
	subscription := fs.String("status", "", "subscription status")
	deleted := fs.Bool("deleted", false, "include deleted clinics")
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per-page", 20, "clinics per page")
	fs.Parse(args)

	q := pageQuery(*page, *perPage)
	setIf(q, "search", *search)
	setIf(q, "status", *subscription)
	if *deleted {
		q.Set("include_deleted", "true")
	}

	status, result, err := call(http.MethodGet, "/admin/clinics?"+q.Encode(), loadTokens().Access, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ %v\n", result["error"])
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tACTIVE\tDELETED")
	for _, c := range items(result, "clinics") {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", c["id"], c["name"], c["subscription_status"], c["is_active"], orDash(c["deleted_at"]))
	}
	w.Flush()
	printPagination(result)
}

func deleteClinic(args []string) {
	fs := flag.NewFlagSet("delete-clinic", flag.ExitOnError)
	clinicID := fs.String("clinic-id", "", "clinic id")
	fs.Parse(args)

	status, result, err := call(http.MethodDelete, "/admin/clinics/"+url.PathEscape(*clinicID), loadTokens().Access, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ %v\n", result["error"])
		return
	}
	clinic, _ := result["clinic"].(map[string]interface{})
	fmt.Printf("✓ Clinic deleted: %v (%v)\n", clinic["name"], clinic["id"])
}

func createClinic(args []string) {
	fs := flag.NewFlagSet("create-clinic", flag.ExitOnError)
	name := fs.String("name", "", "clinic name")
	subscription := fs.String("status", "trial", "subscription status")
	fs.Parse(args)

	status, result, err := call(http.MethodPost, "/admin/clinics", loadTokens().Access, map[string]string{
		"name":                *name,
		"subscription_status": *subscription,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusCreated {
		fmt.Printf("✗ %v\n", result["error"])
		return
	}
	clinic, _ := result["clinic"].(map[string]interface{})
	fmt.Printf("✓ Clinic created: %v (%v)\n", clinic["name"], clinic["id"])
}

// listUsers lists one clinic's members, or every user on the platform when
// no clinic id is given.
func listUsers(args []string) {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	clinicID := fs.String("clinic-id", "", "clinic id (omit for all clinics)")
	search := fs.String("search", "", "username or email contains")
	role := fs.String("role", "", "agent, clinic_admin or super_admin")
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per-page", 20, "users per page")
	fs.Parse(args)

	path := "/clinics/" + url.PathEscape(*clinicID) + "/users"
	if *clinicID == "" {
		q := pageQuery(*page, *perPage)
		setIf(q, "search", *search)
		setIf(q, "role", *role)
		path = "/admin/users?" + q.Encode()
	}
	status, result, err := call(http.MethodGet, path, loadTokens().Access, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ %v\n", result["error"])
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tLOCKED")
	for _, u := range items(result, "users") {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", u["id"], u["username"], u["role"], u["is_locked"])
	}
	w.Flush()
	printPagination(result)
}

func createUser(args []string) {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	clinicID := fs.String("clinic-id", "", "clinic id")
	username := fs.String("username", "", "username")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "initial password")
	role := fs.String("role", "agent", "agent or clinic_admin")
	fs.Parse(args)

	status, result, err := call(http.MethodPost, "/clinics/"+*clinicID+"/users", loadTokens().Access, map[string]string{
		"username": *username,
		"email":    *email,
		"password": *password,
		"role":     *role,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusCreated {
		fmt.Printf("✗ %v\n", result["error"])
		return
	}
	fmt.Printf("✓ User created: %s\n", *username)
}

func listAuditLog(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	clinicID := fs.String("clinic-id", "", "clinic id")
	limit := fs.Int("limit", 50, "maximum events")
	all := fs.Bool("all", false, "list events of every clinic (super admin)")
	action := fs.String("action", "", "filter by action with -all")
	page := fs.Int("page", 1, "page number with -all")
	fs.Parse(args)

	path := fmt.Sprintf("/clinics/%s/audit-logs?limit=%d", url.PathEscape(*clinicID), *limit)
	if *all {
		q := pageQuery(*page, *limit)
		setIf(q, "clinic_id", *clinicID)
		setIf(q, "action", *action)
		path = "/admin/audit-logs?" + q.Encode()
	}
	status, result, err := call(http.MethodGet, path, loadTokens().Access, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("✗ %v\n", result["error"])
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tRESOURCE\tUSER")
	for _, e := range items(result, "audit_logs") {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", e["created_at"], e["action"], e["resource_type"], e["user_id"])
	}
	w.Flush()
}

// Helper functions
var httpClient = &http.Client{Timeout: 15 * time.Second}

func call(method, path, token string, payload interface{}) (int, map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, getAPIURL()+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	result := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return resp.StatusCode, nil, fmt.Errorf("invalid response: %w", err)
	}
	return resp.StatusCode, result, nil
}

func items(result map[string]interface{}, key string) []map[string]interface{} {
	raw, _ := result[key].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func pageQuery(page, perPage int) url.Values {
	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	q.Set("per_page", fmt.Sprint(perPage))
	return q
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func orDash(v interface{}) interface{} {
	if v == nil {
		return "-"
	}
	return v
}

func printPagination(result map[string]interface{}) {
	p, ok := result["pagination"].(map[string]interface{})
	if !ok {
		return
	}
	fmt.Printf("page %v of %v (%v total)\n", p["page"], p["pages"], p["total"])
}

func getAPIURL() string {
	if api := os.Getenv("CLINICOPS_API"); api != "" {
		return api
	}
	return "http://localhost:8080/api"
}

type tokens struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

func tokenFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clinicops", "tokens.json")
}

func saveTokens(t tokens) error {
	if err := os.MkdirAll(filepath.Dir(tokenFile()), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(tokenFile(), data, 0600)
}

func loadTokens() tokens {
	var t tokens
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return t
	}
	_ = json.Unmarshal(data, &t)
	return t
}

func printUsage() {
	fmt.Print(`clinicops CLI

Usage:
  clinicops <command> [options]

Commands:
  auth       Authentication (login, refresh, logout, me, verify, passwd)
  admin      Provisioning (clinics, create-clinic, delete-clinic, users, create-user, audit)
  help       Show this help message

Environment Variables:
  CLINICOPS_API    API endpoint (default: http://localhost:8080/api)

Examples:
  clinicops auth login -clinic "Acme Dental" -username alice -password alice1234
  clinicops auth me
  clinicops admin users -clinic-id <id>
  clinicops admin users -search acme -role clinic_admin
  clinicops admin clinics -status active -page 2
  clinicops admin audit -clinic-id <id> -limit 20
  clinicops admin audit -all -action delete
`)
}
