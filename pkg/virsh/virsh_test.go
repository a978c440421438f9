/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build unit

package virsh_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/internal/util/fakes/runnerfake"
	"github.com/alexandremahdhaoui/whitebox/internal/util/ssh"
	"github.com/alexandremahdhaoui/whitebox/pkg/hardware"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/alexandremahdhaoui/whitebox/pkg/virsh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
)

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func parseGuest(t *testing.T, name string) *virsh.Guest {
	t.Helper()
	g, err := virsh.ParseGuest(readTestdata(t, name))
	require.NoError(t, err)
	return g
}

func TestParseGuest_Nova(t *testing.T) {
	g := parseGuest(t, "guest.xml")

	assert.Equal(t, "instance-00000003", g.Name())
	require.NotNil(t, g.Nova)
	assert.Equal(t, "whitebox-pinned", g.Nova.Name)

	require.NotNil(t, g.Nova.Flavor)
	assert.Equal(t, "whitebox-flavor-1", g.Nova.Flavor.Name)
	assert.Equal(t, map[string]string{
		"memory":    "512",
		"disk":      "1",
		"swap":      "0",
		"ephemeral": "0",
		"vcpus":     "2",
	}, g.Nova.Flavor.Fields())
	assert.Equal(t, map[string]string{
		"hw:cpu_policy":      "dedicated",
		"hw:watchdog_action": "reset",
	}, g.Nova.Flavor.ExtraSpecsMap())

	require.NotNil(t, g.Nova.Owner)
	assert.Equal(t, "1c7f0a55", g.Nova.Owner.Project.UUID)
	require.NotNil(t, g.Nova.Root)
	assert.Equal(t, "image", g.Nova.Root.Type)
}

func TestParseGuest_NoMetadata(t *testing.T) {
	g := parseGuest(t, "plain.xml")

	assert.Nil(t, g.Nova)

	pinned, err := g.PinnedCPUs()
	require.NoError(t, err)
	assert.Equal(t, 0, pinned.Size())

	emulator, err := g.EmulatorPin()
	require.NoError(t, err)
	assert.Equal(t, 0, emulator.Size())

	assert.Empty(t, g.Disks(""))
	assert.Empty(t, g.Watchdogs())
	assert.False(t, g.HasInput("tablet", ""))
	assert.False(t, g.FileBackedShared())

	_, ok := g.RootDiskCache()
	assert.False(t, ok)

	mode, model := g.CPUModel()
	assert.Empty(t, mode)
	assert.Empty(t, model)
	assert.Equal(t, []string{"vmx"}, g.MissingCPUFeatures("vmx"))
}

func TestParseGuest_Invalid(t *testing.T) {
	_, err := virsh.ParseGuest("<domain><name>broken")
	assert.True(t, errors.Is(err, virsh.ErrParseDomain))
}

func TestGuest_CPUs(t *testing.T) {
	g := parseGuest(t, "guest.xml")

	pins, err := g.VCPUPins()
	require.NoError(t, err)
	assert.Equal(t, map[uint]cpuset.CPUSet{0: cpuset.New(2), 1: cpuset.New(3)}, pins)

	pinned, err := g.PinnedCPUs()
	require.NoError(t, err)
	assert.True(t, pinned.Equals(cpuset.New(2, 3)))

	emulator, err := g.EmulatorPin()
	require.NoError(t, err)
	assert.True(t, emulator.Equals(cpuset.New(2, 3)))
}

func TestGuest_CPUModel(t *testing.T) {
	g := parseGuest(t, "guest.xml")

	mode, model := g.CPUModel()
	assert.Equal(t, "custom", mode)
	assert.Equal(t, "Haswell-noTSX", model)

	assert.Equal(t, map[string]string{
		"vmx":     "require",
		"pdpe1gb": "require",
		"hle":     "disable",
	}, g.CPUFeatures())

	assert.Empty(t, g.MissingCPUFeatures("vmx", "pdpe1gb"))
	assert.Equal(t, []string{"hle", "avx512f"}, g.MissingCPUFeatures("vmx", "hle", "avx512f"))
}

func TestGuest_Devices(t *testing.T) {
	g := parseGuest(t, "guest.xml")

	assert.Len(t, g.Disks(""), 2)
	scsi := g.Disks("scsi")
	require.Len(t, scsi, 1)
	assert.Equal(t, "sda", scsi[0].Target.Dev)

	cache, ok := g.RootDiskCache()
	assert.True(t, ok)
	assert.Equal(t, "none", cache)

	assert.True(t, g.HasControllerModel("scsi", "virtio-scsi"))
	assert.False(t, g.HasControllerModel("scsi", "lsilogic"))
	assert.Len(t, g.Controllers("usb"), 1)

	assert.True(t, g.HasInput("tablet", "usb"))
	assert.True(t, g.HasInput("mouse", ""))
	assert.False(t, g.HasInput("tablet", "ps2"))

	watchdogs := g.Watchdogs()
	require.Len(t, watchdogs, 1)
	assert.Equal(t, "i6300esb", watchdogs[0].Model)
	assert.Equal(t, "reset", watchdogs[0].Action)

	assert.True(t, g.FileBackedShared())
	assert.False(t, g.Hugepages())
}

func TestGuest_Interfaces(t *testing.T) {
	g := parseGuest(t, "guest.xml")

	bridge, err := g.InterfaceByMAC("FA:16:3E:11:22:33")
	require.NoError(t, err)
	assert.Equal(t, "bridge", virsh.InterfaceType(bridge))

	vf, err := g.InterfaceByMAC("fa:16:3e:44:55:66")
	require.NoError(t, err)
	assert.Equal(t, "hostdev", virsh.InterfaceType(vf))

	addr, err := virsh.InterfacePCIAddress(vf)
	require.NoError(t, err)
	assert.Equal(t, "0000:81:10.2", addr.String())

	_, err = virsh.InterfacePCIAddress(bridge)
	assert.True(t, errors.Is(err, hardware.ErrInvalidPCIAddress))

	_, err = g.InterfaceByMAC("fa:16:3e:00:00:00")
	assert.True(t, errors.Is(err, virsh.ErrInterfaceMissing))
}

func TestGuest_HostdevPCIAddresses(t *testing.T) {
	g := parseGuest(t, "guest.xml")

	addrs, err := g.HostdevPCIAddresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "0000:5e:00.3", addrs[0].String())
	assert.True(t, addrs[0].MatchesAny([]string{"0000:5e:00.3"}))
}

func TestCapabilities(t *testing.T) {
	caps, err := virsh.ParseCapabilities(readTestdata(t, "capabilities.xml"))
	require.NoError(t, err)

	topology := virsh.NUMATopology(caps)
	require.Len(t, topology, 2)
	assert.True(t, topology[0].Equals(cpuset.New(0, 1)))
	assert.True(t, topology[1].Equals(cpuset.New(2, 3)))

	pages := virsh.PageCounts(caps)
	assert.Equal(t, uint64(512), pages[0][2048])
	assert.Equal(t, uint64(256), pages[1][2048])

	assert.Empty(t, virsh.NUMATopology(nil))

	_, err = virsh.ParseCapabilities("not xml")
	assert.True(t, errors.Is(err, virsh.ErrParseCapabilities))
}

func TestXMLClient(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Whitebox.Containers = true
	cfg.Whitebox.ContainerRuntime = config.RuntimePodman

	fake := runnerfake.New("compute-0").
		On(runnerfake.Response{Match: "virsh dumpxml", Stdout: readTestdata(t, "guest.xml")}).
		On(runnerfake.Response{Match: "virsh capabilities", Stdout: readTestdata(t, "capabilities.xml")}).
		On(runnerfake.Response{Match: "virsh list", Stdout: "instance-00000003\n\ninstance-00000001\n"})

	client := virsh.NewXMLClient(remote.New("compute-0", fake, cfg.Whitebox), cfg.Whitebox)
	ctx := context.Background()

	g, err := client.DumpXML(ctx, "instance-00000003")
	require.NoError(t, err)
	assert.Equal(t, "instance-00000003", g.Name())

	caps, err := client.Capabilities(ctx)
	require.NoError(t, err)
	assert.Len(t, virsh.NUMATopology(caps), 2)

	names, err := client.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"instance-00000001", "instance-00000003"}, names)

	calls := fake.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t,
		"sudo podman exec -u root nova_libvirt sh -c 'virsh dumpxml instance-00000003'",
		calls[0].Line)
}

func TestXMLClient_RemoteFailure(t *testing.T) {
	cfg := config.NewDefaultConfig()
	fake := runnerfake.New("compute-0").
		On(runnerfake.Response{Match: "virsh dumpxml", Stderr: "error: failed to get domain", ExitStatus: 1})

	client := virsh.NewXMLClient(remote.New("compute-0", fake, cfg.Whitebox), cfg.Whitebox)

	_, err := client.DumpXML(context.Background(), "missing")
	require.Error(t, err)

	var rerr *ssh.RemoteExecutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 1, rerr.ExitStatus)
}

func TestFetcher(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Whitebox.CtlplaneAddresses = map[string]string{"compute-1": "10.0.0.6"}

	fake := runnerfake.New("compute-1").
		On(runnerfake.Response{Match: "virsh dumpxml", Stdout: readTestdata(t, "guest.xml")})

	dialer := remote.NewDialer(cfg)
	dialer.NewRunner = func(addr string) (ssh.Runner, error) {
		assert.Equal(t, "10.0.0.6", addr)
		return fake, nil
	}

	g, err := virsh.NewFetcher(dialer, cfg.Whitebox).GuestXML(context.Background(), "compute-1", "instance-00000003")
	require.NoError(t, err)
	assert.NotNil(t, g.Nova)

	_, err = virsh.NewFetcher(dialer, cfg.Whitebox).GuestXML(context.Background(), "compute-9", "instance-00000003")
	assert.True(t, errors.Is(err, remote.ErrAddressResolution))
}

func TestLibvirtURI(t *testing.T) {
	assert.Equal(t,
		"qemu+ssh://heat-admin@10.0.0.5/system?keyfile=%2Fhome%2Fstack%2F.ssh%2Fid_rsa&no_verify=1",
		virsh.LibvirtURI("heat-admin", "10.0.0.5", "/home/stack/.ssh/id_rsa"))
	assert.Equal(t,
		"qemu+ssh://root@compute-0/system?no_verify=1",
		virsh.LibvirtURI("root", "compute-0", ""))

	assert.Equal(t, "qemu:///system", virsh.NewLibvirtSource("qemu:///system").URI())
}
