package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "SUBTENANT_MGMT"

	URL_APP_NAME                   = "URL_App_Name"
	URL_PATH_PREFIX                = "URL_Path_Prefix"
	URL_BASE_PATH                  = "URL_Base_Path"
	HTTP_SHUTDOWN_TIMEOUT          = "HTTP_Shutdown_Timeout"
	HTTP_CLIENT_TIMEOUT            = "HTTP_Client_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS = "Service_To_Service_Credentials"
	PROFILE                        = "Enable_Profile"

	PLATFORM_BASE_URL = "Platform_Base_URL"
	OPERATOR_TENANT   = "Operator_Tenant"
	OPERATOR_USERNAME = "Operator_Username"
	OPERATOR_PASSWORD = "Operator_Password"

	SERVICE_IDENTITY_NAME  = "Service_Identity_Name"
	SERVICE_IDENTITY_ROLES = "Service_Identity_Roles"

	PAGE_SIZE        = "Page_Size"
	LOOKUP_CACHE_TTL = "Lookup_Cache_TTL"

	AUDIT_ENABLED          = "Audit_Enabled"
	BROKERS                = "Kafka_Brokers"
	AUDIT_TOPIC            = "Kafka_Audit_Topic"
	AUDIT_BATCH_SIZE       = "Kafka_Audit_Batch_Size"
	AUDIT_BATCH_BYTES      = "Kafka_Audit_Batch_Bytes"
	KAFKA_USERNAME         = "Kafka_Username"
	KAFKA_PASSWORD         = "Kafka_Password"
	KAFKA_SASL_MECH        = "Kafka_SASL_Mechanism"
	KAFKA_CA               = "Kafka_CA"
	DEFAULT_BROKER_ADDRESS = "kafka:29092"
)

type Config struct {
	UrlAppName                  string
	UrlPathPrefix               string
	UrlBasePath                 string
	HttpShutdownTimeout         time.Duration
	HttpClientTimeout           time.Duration
	ServiceToServiceCredentials map[string]interface{}
	Profile                     bool

	PlatformBaseUrl  string
	OperatorTenant   string
	OperatorUsername string
	OperatorPassword string

	ServiceIdentityName  string
	ServiceIdentityRoles []string

	PageSize       int
	LookupCacheTTL time.Duration

	AuditEnabled         bool
	KafkaBrokers         []string
	KafkaAuditTopic      string
	KafkaAuditBatchSize  int
	KafkaAuditBatchBytes int
	KafkaUsername        string
	KafkaPassword        string
	KafkaSASLMechanism   string
	KafkaCA              string
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", URL_BASE_PATH, c.UrlBasePath)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_CLIENT_TIMEOUT, c.HttpClientTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %s\n", PLATFORM_BASE_URL, c.PlatformBaseUrl)
	fmt.Fprintf(&b, "%s: %s\n", OPERATOR_TENANT, c.OperatorTenant)
	fmt.Fprintf(&b, "%s: %s\n", OPERATOR_USERNAME, c.OperatorUsername)
	fmt.Fprintf(&b, "%s: %s\n", SERVICE_IDENTITY_NAME, c.ServiceIdentityName)
	fmt.Fprintf(&b, "%s: %s\n", SERVICE_IDENTITY_ROLES, c.ServiceIdentityRoles)
	fmt.Fprintf(&b, "%s: %d\n", PAGE_SIZE, c.PageSize)
	fmt.Fprintf(&b, "%s: %s\n", LOOKUP_CACHE_TTL, c.LookupCacheTTL)
	fmt.Fprintf(&b, "%s: %t\n", AUDIT_ENABLED, c.AuditEnabled)
	fmt.Fprintf(&b, "%s: %s\n", BROKERS, c.KafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", AUDIT_TOPIC, c.KafkaAuditTopic)
	fmt.Fprintf(&b, "%s: %d\n", AUDIT_BATCH_SIZE, c.KafkaAuditBatchSize)
	fmt.Fprintf(&b, "%s: %d\n", AUDIT_BATCH_BYTES, c.KafkaAuditBatchBytes)

	return b.String()
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "subtenant-management")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(HTTP_CLIENT_TIMEOUT, 30)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)

	options.SetDefault(PLATFORM_BASE_URL, "http://cumulocity:8111")
	options.SetDefault(OPERATOR_TENANT, "management")
	options.SetDefault(OPERATOR_USERNAME, "")
	options.SetDefault(OPERATOR_PASSWORD, "")

	options.SetDefault(SERVICE_IDENTITY_NAME, "subtenant-management")
	options.SetDefault(SERVICE_IDENTITY_ROLES, []string{
		"ROLE_INVENTORY_ADMIN",
		"ROLE_INVENTORY_READ",
		"ROLE_USER_MANAGEMENT_ADMIN",
		"ROLE_OPTION_MANAGEMENT_ADMIN",
		"ROLE_RETENTION_RULE_ADMIN",
		"ROLE_IDENTITY_ADMIN",
	})

	options.SetDefault(PAGE_SIZE, 1000)
	options.SetDefault(LOOKUP_CACHE_TTL, 30)

	options.SetDefault(AUDIT_ENABLED, false)
	options.SetDefault(BROKERS, []string{DEFAULT_BROKER_ADDRESS})
	options.SetDefault(AUDIT_TOPIC, "subtenant-management.provisioning-audit")
	options.SetDefault(AUDIT_BATCH_SIZE, 100)
	options.SetDefault(AUDIT_BATCH_BYTES, 1048576)
	options.SetDefault(KAFKA_USERNAME, "")
	options.SetDefault(KAFKA_PASSWORD, "")
	options.SetDefault(KAFKA_SASL_MECH, "plain")
	options.SetDefault(KAFKA_CA, "")

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	return &Config{
		UrlPathPrefix:               options.GetString(URL_PATH_PREFIX),
		UrlAppName:                  options.GetString(URL_APP_NAME),
		UrlBasePath:                 buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:         options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		HttpClientTimeout:           options.GetDuration(HTTP_CLIENT_TIMEOUT) * time.Second,
		ServiceToServiceCredentials: options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                     options.GetBool(PROFILE),
		PlatformBaseUrl:             options.GetString(PLATFORM_BASE_URL),
		OperatorTenant:              options.GetString(OPERATOR_TENANT),
		OperatorUsername:            options.GetString(OPERATOR_USERNAME),
		OperatorPassword:            options.GetString(OPERATOR_PASSWORD),
		ServiceIdentityName:         options.GetString(SERVICE_IDENTITY_NAME),
		ServiceIdentityRoles:        options.GetStringSlice(SERVICE_IDENTITY_ROLES),
		PageSize:                    options.GetInt(PAGE_SIZE),
		LookupCacheTTL:              options.GetDuration(LOOKUP_CACHE_TTL) * time.Second,
		AuditEnabled:                options.GetBool(AUDIT_ENABLED),
		KafkaBrokers:                options.GetStringSlice(BROKERS),
		KafkaAuditTopic:             options.GetString(AUDIT_TOPIC),
		KafkaAuditBatchSize:         options.GetInt(AUDIT_BATCH_SIZE),
		KafkaAuditBatchBytes:        options.GetInt(AUDIT_BATCH_BYTES),
		KafkaUsername:               options.GetString(KAFKA_USERNAME),
		KafkaPassword:               options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:          options.GetString(KAFKA_SASL_MECH),
		KafkaCA:                     options.GetString(KAFKA_CA),
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}
