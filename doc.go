
// Package usercenter loads the configuration and assembles the user center
// services. The data layer lives in database and repository, the domain in
// models and users.
package usercenter
