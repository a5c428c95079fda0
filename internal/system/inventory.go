// Package system collects the DeviceInventory facets of spec.md §2/§6
// by shelling out to PowerShell on Windows and to coreutils/procfs on
// Linux, adapted near-verbatim from the teacher's pkg/system inventory
// collector (same shellout shape, same CIM/registry query on Windows,
// same /proc and dmi reads on Linux), extended with the Users/Groups
// facets the original distillation dropped but spec.md §6 names.
package system

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tamsilcms/agent/pkg/models"
)

// Collect gathers a full DeviceInventory snapshot for this host.
func Collect(assetID, hostname string) (*models.DeviceInventory, error) {
	inv := &models.DeviceInventory{
		AssetID:  assetID,
		Hostname: hostname,
		OS:       runtime.GOOS,
	}

	var err error
	if runtime.GOOS == "windows" {
		err = collectWindows(inv)
	} else {
		err = collectLinux(inv)
	}
	if err != nil {
		return nil, errors.Wrap(err, "system: collect inventory")
	}
	return inv, nil
}

// ── Windows ──────────────────────────────────────────────────────────────

func collectWindows(inv *models.DeviceInventory) error {
	script := `
$ErrorActionPreference = 'SilentlyContinue'

$cpu = Get-CimInstance Win32_Processor | Select-Object -First 1
$ram = Get-CimInstance Win32_ComputerSystem
$bios = Get-CimInstance Win32_BIOS
$comp = Get-CimInstance Win32_ComputerSystem
$disks = Get-CimInstance Win32_LogicalDisk -Filter "DriveType=3"
$nics = Get-CimInstance Win32_NetworkAdapterConfiguration | Where-Object { $_.IPAddress -ne $null }
$software = @()
$paths = @(
    'HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*',
    'HKLM:\Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\*',
    'HKCU:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*'
)
foreach ($path in $paths) {
    if (Test-Path $path) {
        $software += Get-ItemProperty $path |
            Where-Object { $_.DisplayName -ne $null -and $_.DisplayName -ne '' } |
            Select-Object DisplayName, DisplayVersion, Publisher, InstallDate
    }
}
$software = $software | Sort-Object DisplayName -Unique

$admins = (Get-LocalGroupMember -Group "Administrators" -ErrorAction SilentlyContinue | ForEach-Object { $_.Name })
$users = @(Get-LocalUser | ForEach-Object {
    @{
        username = $_.Name
        uid      = $_.SID.Value
        groups   = @()
        is_admin = [bool]($admins -contains $_.Name)
    }
})
$groups = @(Get-LocalGroup | ForEach-Object {
    @{
        name    = $_.Name
        gid     = $_.SID.Value
        members = @((Get-LocalGroupMember -Group $_.Name -ErrorAction SilentlyContinue) | ForEach-Object { $_.Name })
    }
})

$result = @{
    cpu = @{ name = $cpu.Name.Trim(); number_of_cores = [int]$cpu.NumberOfCores }
    ram = @{ total_physical_memory_gb = [math]::Round($ram.TotalPhysicalMemory / 1GB, 2) }
    bios = @{ smbios_bios_version = $bios.SMBIOSBIOSVersion; manufacturer = $bios.Manufacturer }
    computer = @{ manufacturer = $comp.Manufacturer.Trim(); model = $comp.Model.Trim() }
    serial = @{ serial_number = $bios.SerialNumber }
    disks = @($disks | ForEach-Object { @{ device_id = $_.DeviceID; size_gb = [math]::Round($_.Size / 1GB, 2); free_gb = [math]::Round($_.FreeSpace / 1GB, 2) } })
    nics = @($nics | ForEach-Object { @{ description = $_.Description; mac_address = $_.MACAddress; ip_addresses = @($_.IPAddress | Where-Object { $_ -ne $null }) } })
    software = @($software | ForEach-Object { @{ name = $_.DisplayName; version = if ($_.DisplayVersion) { $_.DisplayVersion } else { "" }; publisher = if ($_.Publisher) { $_.Publisher } else { "" }; install_date = if ($_.InstallDate) { $_.InstallDate } else { "" } } })
    users = $users
    groups = $groups
}

$result | ConvertTo-Json -Depth 6 -Compress
`

	out, err := runPowerShell(script)
	if err != nil {
		return errors.Wrap(err, "system: powershell inventory")
	}

	var raw struct {
		CPU      models.InventoryCPU        `json:"cpu"`
		RAM      models.InventoryRAM        `json:"ram"`
		BIOS     models.InventoryBIOS       `json:"bios"`
		Computer models.InventoryComputer   `json:"computer"`
		Serial   models.InventorySerial     `json:"serial"`
		Disks    []models.InventoryDisk     `json:"disks"`
		NICs     []models.InventoryNIC      `json:"nics"`
		Software []models.InventorySoftware `json:"software"`
		Users    []models.InventoryUser     `json:"users"`
		Groups   []models.InventoryGroup    `json:"groups"`
	}

	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return errors.Wrapf(err, "system: parse inventory json, output=%s", out)
	}

	inv.CPU, inv.RAM, inv.BIOS = raw.CPU, raw.RAM, raw.BIOS
	inv.Computer, inv.Serial = raw.Computer, raw.Serial
	inv.Disks, inv.NICs, inv.Software = raw.Disks, raw.NICs, raw.Software
	inv.Users, inv.Groups = raw.Users, raw.Groups
	return nil
}

// ── Linux ────────────────────────────────────────────────────────────────

func collectLinux(inv *models.DeviceInventory) error {
	if out, err := runCmd("bash", "-c", "lscpu | grep 'Model name' | cut -d: -f2 | xargs"); err == nil {
		inv.CPU.Name = strings.TrimSpace(out)
	}
	if out, err := runCmd("bash", "-c", "lscpu | grep '^CPU(s):' | awk '{print $2}'"); err == nil {
		fmt.Sscanf(strings.TrimSpace(out), "%d", &inv.CPU.NumberOfCores)
	}

	if out, err := runCmd("bash", "-c", "grep MemTotal /proc/meminfo | awk '{print $2}'"); err == nil {
		var kb int64
		fmt.Sscanf(strings.TrimSpace(out), "%d", &kb)
		inv.RAM.TotalPhysicalMemoryGB = float64(kb) / 1024 / 1024
	}

	if out, err := runCmd("bash", "-c", "cat /sys/class/dmi/id/product_serial 2>/dev/null || echo unknown"); err == nil {
		inv.Serial.SerialNumber = strings.TrimSpace(out)
	}
	if out, err := runCmd("bash", "-c", "cat /sys/class/dmi/id/sys_vendor 2>/dev/null || echo unknown"); err == nil {
		inv.Computer.Manufacturer = strings.TrimSpace(out)
	}
	if out, err := runCmd("bash", "-c", "cat /sys/class/dmi/id/product_name 2>/dev/null || echo unknown"); err == nil {
		inv.Computer.Model = strings.TrimSpace(out)
	}
	if out, err := runCmd("bash", "-c", "df -BG --output=source,size,avail -x tmpfs -x devtmpfs 2>/dev/null | tail -n +2"); err == nil {
		inv.Disks = parseDiskUsage(out)
	}

	if hostname, err := os.Hostname(); err == nil {
		inv.Hostname = hostname
	}

	inv.Users = collectLinuxUsers()
	inv.Groups = collectLinuxGroups()
	return nil
}

func parseDiskUsage(out string) []models.InventoryDisk {
	var disks []models.InventoryDisk
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		size, _ := strconv.ParseFloat(strings.TrimSuffix(fields[1], "G"), 64)
		free, _ := strconv.ParseFloat(strings.TrimSuffix(fields[2], "G"), 64)
		disks = append(disks, models.InventoryDisk{DeviceID: fields[0], SizeGB: size, FreeGB: free})
	}
	return disks
}

// collectLinuxUsers parses /etc/passwd and cross-references the sudo/
// wheel group membership for is_admin.
func collectLinuxUsers() []models.InventoryUser {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return nil
	}
	defer f.Close()

	admins := adminUsernames()
	var users []models.InventoryUser
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) < 3 {
			continue
		}
		name, uid := fields[0], fields[2]
		users = append(users, models.InventoryUser{
			Username: name,
			UID:      uid,
			IsAdmin:  admins[name],
		})
	}
	return users
}

func adminUsernames() map[string]bool {
	admins := map[string]bool{}
	for _, group := range []string{"sudo", "wheel", "admin"} {
		out, err := runCmd("bash", "-c", "getent group "+group+" 2>/dev/null | cut -d: -f4")
		if err != nil || out == "" {
			continue
		}
		for _, name := range strings.Split(out, ",") {
			admins[strings.TrimSpace(name)] = true
		}
	}
	return admins
}

func collectLinuxGroups() []models.InventoryGroup {
	f, err := os.Open("/etc/group")
	if err != nil {
		return nil
	}
	defer f.Close()

	var groups []models.InventoryGroup
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) < 4 {
			continue
		}
		var members []string
		if fields[3] != "" {
			members = strings.Split(fields[3], ",")
		}
		groups = append(groups, models.InventoryGroup{Name: fields[0], GID: fields[2], Members: members})
	}
	return groups
}

// ── Helpers ──────────────────────────────────────────────────────────────

func runPowerShell(script string) (string, error) {
	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	result := strings.TrimSpace(string(out))
	result = strings.TrimPrefix(result, "\xef\xbb\xbf")
	return result, nil
}

func runCmd(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
